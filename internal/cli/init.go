package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Strata project",
	Long:  `Creates a new Strata project with default configuration files.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(projectDirName, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", projectDirName, err)
	}

	// Create main.pkl if it doesn't exist
	mainPkl := "main.pkl"
	if _, err := os.Stat(mainPkl); os.IsNotExist(err) {
		content := `// Strata configuration

amends "strata:Config"

providers {
  // Add your provider configurations here
}

resources {
  // Add your resources here
}

ephemerals {
  // Add ephemeral resources here; their values never reach state
}

outputs {
  // Add your outputs here
}
`
		if err := os.WriteFile(mainPkl, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", mainPkl, err)
		}
		fmt.Printf("Created %s\n", mainPkl)
	}

	// Create empty state file
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	sp := statePath(wd)
	if _, err := os.Stat(sp); os.IsNotExist(err) {
		mgr := state.NewManager(sp)
		if err := mgr.Write(context.Background(), &ir.State{Version: ir.StateFormatVersion}); err != nil {
			return fmt.Errorf("failed to create state file: %w", err)
		}
		fmt.Printf("Created %s\n", sp)
	}

	fmt.Println("\nStrata initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit main.pkl to define your infrastructure")
	fmt.Println("  2. Run 'strata plan' to see what will be created")
	fmt.Println("  3. Run 'strata apply' to create your infrastructure")

	return nil
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/engine"
	"github.com/strata-io/strata/internal/eval"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate PKL configuration files",
	Long: `Validates the syntax and types of all PKL configuration files, and
checks the resource graph for dependency cycles, including cyclic
write-only references.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Println("Validating configuration...")

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	evaluator := eval.NewEvaluator(wd)

	fmt.Print("Checking main.pkl... ")
	cfg, err := evaluator.LoadConfig(cmd.Context(), "main.pkl", nil)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Print("Checking resource graph... ")
	if _, err := engine.BuildDAG(engine.ExpandForEach(cfg.Resources), cfg.Ephemerals); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Println("\nConfiguration is valid!")
	return nil
}

package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "PKL-native Infrastructure as Code",
	Long: `Strata is a type-safe infrastructure as code tool built on Apple's PKL language.

It provides a clean, deterministic way to manage cloud infrastructure with:
  • Type-safe resource definitions
  • Git-native state management
  • Human-readable plans and state files
  • Write-only arguments that keep secrets out of state`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logLevel
		if level == "" {
			level = os.Getenv("STRATA_LOG_LEVEL")
		}
		logging.Init(level)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(versionCmd)
}

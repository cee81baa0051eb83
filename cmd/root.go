package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the crucible application.
// It is the entry point when the application is called without any
// subcommands.
var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Run dependency-ordered test suites with lifecycle extensions",
	Long: `crucible executes test suites defined in YAML files: each test runs a
command under a timeout with retries, scheduled so that every test runs
after its declared dependencies. Results are rendered as console tables
and can be written as a JSON report.`,
	// SilenceUsage prevents Cobra from printing the usage message on
	// errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. This is called from
// the main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "crucible version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

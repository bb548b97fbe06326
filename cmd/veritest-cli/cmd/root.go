package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "veritest-cli",
	Short: "Veritest support chat CLI",
	Long: `Veritest CLI is a command-line client for the Veritest support chat.

Available commands:
  chat    Join a ticket conversation from the terminal

Use "veritest-cli [command] --help" for more information about a specific command.`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "group-adder",
		Short:        "Telegram bot that adds a list of users to a group at a safe pace",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newReportCmd(openArchive),
	)
	return rootCmd
}

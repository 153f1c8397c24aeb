package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "klbot",
	Short: "Chat bot built from pluggable modules",
	Long:  "KLBot receives chat messages, walks them through an ordered chain of modules and relays the replies.",
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

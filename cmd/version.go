package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is injected at build time via ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the QuickDesk version",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("quickdesk %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

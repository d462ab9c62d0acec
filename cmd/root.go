// Package cmd contains the quickdesk CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quickdesk",
	Short: "QuickDesk - conversational ticket filing and test generation",
	Long: `QuickDesk serves a conversational assistant for QA teams: a guided
Jira ticket wizard, AI-backed scenario, test case, code, and XPath
generators, shared workspaces, team conversations, and a Microsoft
Teams mirror.

Run "quickdesk serve" to start the HTTP server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

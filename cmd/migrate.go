package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quickdesk/quickdesk/db"
	"github.com/quickdesk/quickdesk/internal/config"
	"github.com/quickdesk/quickdesk/internal/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := log.New(log.Config{})
		if err := db.Migrate(cfg.DatabaseURL(), logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

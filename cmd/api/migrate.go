package main

import (
	"github.com/spf13/cobra"

	"github.com/xavierca1/lead-pipeline/internal/infra/database"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if migrateStatus {
			return database.MigrationStatus(cmd.Context(), db)
		}
		if err := database.Migrate(cmd.Context(), db); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print migration status instead of applying")
}

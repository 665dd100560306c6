package cmd

import (
	"github.com/lira-dao/staking-sidecar/internal/config"
	"github.com/spf13/cobra"
)

var runDatabaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Database maintenance",
}

var runDatabaseMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewConfig()
		l := newLogger(cfg, "database")

		if _, err := openDatabase(cfg, l); err != nil {
			return err
		}
		l.Sugar().Info("Database is up to date")
		return nil
	},
}

func init() {
	runDatabaseCmd.AddCommand(runDatabaseMigrateCmd)
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakif/flipbook/internal/backend/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}

		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		before, _, err := db.MigrationVersion()
		if err != nil {
			return err
		}
		if err := db.Migrate(); err != nil {
			return err
		}
		after, dirty, err := db.MigrationVersion()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if before == after {
			fmt.Fprintf(out, "%s is up to date (version %d)\n", cfg.Database.Path, after)
		} else {
			fmt.Fprintf(out, "%s migrated from version %d to %d\n", cfg.Database.Path, before, after)
		}
		if dirty {
			fmt.Fprintln(out, "warning: schema is marked dirty")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

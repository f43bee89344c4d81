package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aydarnuman/catering-pro-sub001/internal/platform/db"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		pool, err := db.New(cmd.Context(), cfg.PGDSN, db.Options{MaxConns: 2, ApplicationName: "costengine-migrate"})
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := migrate.Up(pool); err != nil {
			return err
		}
		version, dirty, err := migrate.Version(pool)
		if err != nil {
			return err
		}
		logger.Info("schema migrated")
		fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		pool, err := db.New(cmd.Context(), cfg.PGDSN, db.Options{MaxConns: 1, ApplicationName: "costengine-migrate"})
		if err != nil {
			return err
		}
		defer pool.Close()
		version, dirty, err := migrate.Version(pool)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
		return nil
	},
}

var migrateFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the embedded migration files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		files, err := migrate.Files()
		if err != nil {
			return err
		}
		for _, name := range files {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	migrateCmd.AddCommand(migrateFilesCmd)
}

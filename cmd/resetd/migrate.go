// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/resetd/resetd/internal/config"
	"github.com/resetd/resetd/internal/store/postgres"
)

// NewMigrateCmd creates the migrate subcommand group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
		Long: `Apply, roll back, or inspect the schema migrations of the
PostgreSQL request store. The SQLite backend migrates itself on open.`,
	}

	cmd.AddCommand(
		newMigrateUpCmd(),
		newMigrateDownCmd(),
		newMigrateVersionCmd(),
		newMigrateForceCmd(),
	)

	return cmd
}

// withMigrator resolves the configured DSN, opens a Migrator, and runs fn.
func withMigrator(cmd *cobra.Command, fn func(*postgres.Migrator) error) error {
	path := configFile
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, explicit, nil)
	if err != nil {
		return err
	}
	if cfg.Store.DSN == "" {
		return oops.Code("CONFIG_INVALID").Errorf("migrations require a postgres DSN (store.dsn)")
	}

	m, err := postgres.NewMigrator(cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrln("warning: closing migrator:", closeErr)
		}
	}()

	return fn(m)
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations applied")
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Migration rolled back")
				return nil
			})
		},
	}
}

func newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if version == 0 {
					cmd.Println("No migrations applied")
					return nil
				}
				cmd.Printf("Version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("CONFIG_INVALID").Errorf("invalid version %q", args[0])
			}
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				if forceErr := m.Force(version); forceErr != nil {
					return forceErr
				}
				cmd.Printf("Version forced to %d\n", version)
				return nil
			})
		},
	}
}

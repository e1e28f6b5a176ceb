// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the resetd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resetd",
		Short: "resetd - password reset ticket daemon",
		Long: `resetd issues and redeems password reset requests over a framed
binary protocol. Administrators open requests for accounts, users redeem
the secret once to set a new password.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewClientCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/config"
	"github.com/holomush/identity/internal/xdg"
)

// NewRootCmd creates the root command for the identity CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Identity - account and credential lifecycle service",
		Long: `Identity registers accounts, verifies email ownership, issues
session tokens, and resets forgotten passwords over an HTTP/JSON API
backed by PostgreSQL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/identity/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(newPurgeTokensCmd(deps))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd. An explicit --config must
// exist; the XDG default is optional.
func loadConfig(cmd *cobra.Command, databaseOnly bool) (*config.Config, error) {
	opts := config.Options{Flags: cmd.Flags(), DatabaseOnly: databaseOnly}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		opts.Path = path
		opts.Explicit = true
	} else if path, err := xdg.ConfigFile(); err == nil {
		opts.Path = path
	}

	return config.Load(opts)
}

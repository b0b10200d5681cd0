// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Resolve the configuration from defaults, the config file, the
environment, and flags, validate it, and print it as YAML with secrets
redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Redact())
			if err != nil {
				return oops.With("operation", "marshal config").Wrap(err)
			}
			cmd.Print(string(out))
			return nil
		},
	}
}

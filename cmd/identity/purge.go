// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/auth/postgres"
	"github.com/holomush/identity/internal/store"
)

// NewPurgeTokensCmd creates the purge-tokens subcommand.
func NewPurgeTokensCmd() *cobra.Command {
	return newPurgeTokensCmd(nil)
}

func newPurgeTokensCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-tokens",
		Short: "Delete expired verification tokens",
		Long: `Delete verification tokens older than tokens.verification_ttl.
The server does this periodically; this command runs one pass by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps := deps.withDefaults()

			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			db, err := deps.DatabaseFactory(cmd.Context(), cfg.Database.URL, store.PoolOptions{})
			if err != nil {
				return oops.With("operation", "connect to database").Wrap(err)
			}
			defer db.Close()

			tokens := postgres.NewVerificationTokenRepository(db, cfg.Tokens.VerificationTTL)
			n, err := tokens.DeleteExpired(cmd.Context())
			if err != nil {
				return oops.Code("PURGE_FAILED").Wrap(err)
			}
			cmd.Printf("Deleted %d expired verification token(s)\n", n)
			return nil
		},
	}
}

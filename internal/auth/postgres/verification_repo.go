// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/identity/internal/auth"
)

// VerificationTokenRepository implements auth.VerificationTokenRepository
// using PostgreSQL. Tokens older than the retention window are invisible
// to lookups and removed by DeleteExpired.
type VerificationTokenRepository struct {
	pool      poolIface
	retention time.Duration
	now       func() time.Time
}

// NewVerificationTokenRepository creates a repository. retention <= 0
// selects auth.DefaultVerificationTTL.
func NewVerificationTokenRepository(pool poolIface, retention time.Duration) *VerificationTokenRepository {
	if retention <= 0 {
		retention = auth.DefaultVerificationTTL
	}
	return &VerificationTokenRepository{
		pool:      pool,
		retention: retention,
		now:       time.Now,
	}
}

// WithClock overrides the time source used to compute the retention cutoff.
func (r *VerificationTokenRepository) WithClock(now func() time.Time) *VerificationTokenRepository {
	r.now = now
	return r
}

func (r *VerificationTokenRepository) cutoff() time.Time {
	return r.now().Add(-r.retention)
}

// Create stores a new token.
func (r *VerificationTokenRepository) Create(ctx context.Context, token *auth.VerificationToken) error {
	_, err := querier(ctx, r.pool).Exec(ctx, `
		INSERT INTO verification_tokens (id, account_id, token, created_at)
		VALUES ($1, $2, $3, $4)
	`, token.ID.String(), token.AccountID.String(), token.Token, token.CreatedAt)
	if isForeignKeyViolation(err, constraintTokenAccountFKey) {
		return oops.Code("ACCOUNT_ROW_NOT_FOUND").
			With("account_id", token.AccountID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("VERIFICATION_TOKEN_CREATE_FAILED").
			With("operation", "insert verification token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByToken retrieves a token within retention by its raw value.
func (r *VerificationTokenRepository) GetByToken(ctx context.Context, token string) (*auth.VerificationToken, error) {
	row := querier(ctx, r.pool).QueryRow(ctx, `
		SELECT id, account_id, token, created_at
		FROM verification_tokens
		WHERE token = $1 AND created_at > $2
	`, token, r.cutoff())

	var (
		idStr, accountIDStr string
		vt                  auth.VerificationToken
	)
	err := row.Scan(&idStr, &accountIDStr, &vt.Token, &vt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("VERIFICATION_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("VERIFICATION_TOKEN_GET_FAILED").
			With("operation", "get verification token").
			Wrap(err)
	}

	if vt.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("VERIFICATION_TOKEN_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	if vt.AccountID, err = ulid.Parse(accountIDStr); err != nil {
		return nil, oops.Code("VERIFICATION_TOKEN_CORRUPT_ID").With("account_id", accountIDStr).Wrap(err)
	}
	return &vt, nil
}

// DeleteExpired removes tokens past retention.
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := querier(ctx, r.pool).Exec(ctx, `
		DELETE FROM verification_tokens WHERE created_at <= $1
	`, r.cutoff())
	if err != nil {
		return 0, oops.Code("VERIFICATION_TOKEN_PURGE_FAILED").
			With("operation", "delete expired verification tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.VerificationTokenRepository = (*VerificationTokenRepository)(nil)

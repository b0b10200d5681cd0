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

const accountColumns = `id, email, password_hash, first_name, last_name, is_verified,
		       reset_token_hash, reset_expires_at, version, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account at version 1.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := querier(ctx, r.pool).Exec(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, first_name, last_name, is_verified,
			reset_token_hash, reset_expires_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		account.IsVerified,
		account.ResetTokenHash,
		account.ResetExpiresAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err, constraintAccountEmail) {
		return oops.Code("ACCOUNT_DUPLICATE_EMAIL").
			With("email", account.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("email", account.Email).
			Wrap(err)
	}
	account.Version = 1
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := querier(ctx, r.pool).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_ROW_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by its normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := querier(ctx, r.pool).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_ROW_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// GetByResetToken retrieves the account holding a live reset token hash.
func (r *AccountRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*auth.Account, error) {
	row := querier(ctx, r.pool).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE reset_token_hash = $1 AND reset_expires_at > $2
	`, tokenHash, now)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_ROW_NOT_FOUND").
			With("lookup", "reset token").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_RESET_TOKEN_FAILED").
			With("operation", "get account by reset token").
			Wrap(err)
	}
	return account, nil
}

// Update writes the account if its version is still current, then advances
// account.Version.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	result, err := querier(ctx, r.pool).Exec(ctx, `
		UPDATE accounts SET
			email = $2,
			password_hash = $3,
			first_name = $4,
			last_name = $5,
			is_verified = $6,
			reset_token_hash = $7,
			reset_expires_at = $8,
			updated_at = $9,
			version = version + 1
		WHERE id = $1 AND version = $10
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		account.IsVerified,
		account.ResetTokenHash,
		account.ResetExpiresAt,
		account.UpdatedAt,
		account.Version,
	)
	if isUniqueViolation(err, constraintAccountEmail) {
		return oops.Code("ACCOUNT_DUPLICATE_EMAIL").
			With("email", account.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return r.missedUpdate(ctx, account)
	}
	account.Version++
	return nil
}

// missedUpdate tells a stale version apart from a deleted account.
func (r *AccountRepository) missedUpdate(ctx context.Context, account *auth.Account) error {
	var exists bool
	err := querier(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`,
		account.ID.String(),
	).Scan(&exists)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "check account exists").
			With("id", account.ID.String()).
			Wrap(err)
	}
	if !exists {
		return oops.Code("ACCOUNT_ROW_NOT_FOUND").
			With("id", account.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return oops.Code("ACCOUNT_VERSION_CONFLICT").
		With("id", account.ID.String()).
		With("version", account.Version).
		Wrap(auth.ErrConflict)
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr   string
		account auth.Account
	)
	err := row.Scan(
		&idStr,
		&account.Email,
		&account.PasswordHash,
		&account.FirstName,
		&account.LastName,
		&account.IsVerified,
		&account.ResetTokenHash,
		&account.ResetExpiresAt,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with lookup context
	}

	account.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	return &account, nil
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

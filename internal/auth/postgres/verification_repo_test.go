// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/identity/internal/auth"
	"github.com/holomush/identity/pkg/errutil"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestNewVerificationTokenRepository_DefaultRetention(t *testing.T) {
	repo := NewVerificationTokenRepository(nil, 0).WithClock(fixedNow)
	assert.Equal(t, fixedNow().Add(-auth.DefaultVerificationTTL), repo.cutoff())
}

func TestVerificationTokenRepository_Create(t *testing.T) {
	token := &auth.VerificationToken{
		ID:        ulid.Make(),
		AccountID: ulid.Make(),
		Token:     "deadbeef",
		CreatedAt: fixedNow(),
	}

	tests := []struct {
		name      string
		err       error
		errorCode string
	}{
		{name: "inserts"},
		{
			name:      "account gone",
			err:       &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "verification_tokens_account_id_fkey"},
			errorCode: "ACCOUNT_ROW_NOT_FOUND",
		},
		{name: "database error", err: errors.New("connection refused"), errorCode: "VERIFICATION_TOKEN_CREATE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			exp := mock.ExpectExec(`INSERT INTO verification_tokens`).
				WithArgs(token.ID.String(), token.AccountID.String(), "deadbeef", token.CreatedAt)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			err := NewVerificationTokenRepository(mock, time.Hour).Create(context.Background(), token)
			if tt.errorCode == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.errorCode)
			assert.False(t, errutil.HasCode(err, auth.CodeAccountNotFound),
				"storage errors must not carry the client-facing not-found code")
		})
	}
}

func TestVerificationTokenRepository_GetByToken(t *testing.T) {
	ctx := context.Background()
	cols := []string{"id", "account_id", "token", "created_at"}
	cutoff := fixedNow().Add(-12 * time.Hour)

	t.Run("within retention", func(t *testing.T) {
		mock := newMockPool(t)
		id, accountID := ulid.Make(), ulid.Make()
		created := fixedNow().Add(-time.Hour)
		mock.ExpectQuery(`FROM verification_tokens\s+WHERE token = \$1 AND created_at > \$2`).
			WithArgs("deadbeef", cutoff).
			WillReturnRows(pgxmock.NewRows(cols).AddRow(id.String(), accountID.String(), "deadbeef", created))

		repo := NewVerificationTokenRepository(mock, 12*time.Hour).WithClock(fixedNow)
		got, err := repo.GetByToken(ctx, "deadbeef")
		require.NoError(t, err)
		assert.Equal(t, &auth.VerificationToken{ID: id, AccountID: accountID, Token: "deadbeef", CreatedAt: created}, got)
	})

	t.Run("unknown or past retention", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM verification_tokens`).
			WithArgs("deadbeef", cutoff).
			WillReturnRows(pgxmock.NewRows(cols))

		repo := NewVerificationTokenRepository(mock, 12*time.Hour).WithClock(fixedNow)
		_, err := repo.GetByToken(ctx, "deadbeef")
		errutil.AssertErrorCode(t, err, "VERIFICATION_TOKEN_NOT_FOUND")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(`FROM verification_tokens`).
			WithArgs("deadbeef", cutoff).
			WillReturnError(errors.New("timeout"))

		repo := NewVerificationTokenRepository(mock, 12*time.Hour).WithClock(fixedNow)
		_, err := repo.GetByToken(ctx, "deadbeef")
		errutil.AssertErrorCode(t, err, "VERIFICATION_TOKEN_GET_FAILED")
	})
}

func TestVerificationTokenRepository_DeleteExpired(t *testing.T) {
	cutoff := fixedNow().Add(-12 * time.Hour)

	t.Run("reports removed rows", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM verification_tokens WHERE created_at <= \$1`).
			WithArgs(cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 7))

		n, err := NewVerificationTokenRepository(mock, 12*time.Hour).WithClock(fixedNow).DeleteExpired(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM verification_tokens`).
			WithArgs(cutoff).
			WillReturnError(errors.New("timeout"))

		_, err := NewVerificationTokenRepository(mock, 12*time.Hour).WithClock(fixedNow).DeleteExpired(context.Background())
		errutil.AssertErrorCode(t, err, "VERIFICATION_TOKEN_PURGE_FAILED")
	})
}

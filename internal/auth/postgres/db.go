// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides PostgreSQL implementations of auth repositories.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// poolIface is the part of *pgxpool.Pool the repositories use. pgxmock
// pools satisfy it too.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Constraint names from the embedded migrations.
const (
	constraintAccountEmail     = "accounts_email_key"
	constraintTokenAccountFKey = "verification_tokens_account_id_fkey"
)

// violates reports whether err is a PostgreSQL error with the given SQLSTATE
// raised by the named constraint.
func violates(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code && pgErr.ConstraintName == constraint
}

func isUniqueViolation(err error, constraint string) bool {
	return violates(err, pgerrcode.UniqueViolation, constraint)
}

func isForeignKeyViolation(err error, constraint string) bool {
	return violates(err, pgerrcode.ForeignKeyViolation, constraint)
}

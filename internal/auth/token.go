// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	TokenBytes              = 20 // 20 bytes = 40 hex chars
	DefaultVerificationTTL  = 12 * time.Hour
	DefaultResetTokenExpiry = time.Hour
)

// GenerateToken returns a hex-encoded cryptographically random token of
// TokenBytes bytes.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateResetToken creates a reset token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is mailed to the user; only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	token, err = GenerateToken()
	if err != nil {
		return "", "", err
	}
	return token, HashResetToken(token), nil
}

// HashResetToken computes the hex SHA-256 of a reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerificationToken proves ownership of an account's email address.
// Several tokens may be live for one account; each expires after the
// store's retention window regardless of use.
type VerificationToken struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	Token     string
	CreatedAt time.Time
}

// NewVerificationToken creates a token for the account with fresh random data.
func NewVerificationToken(accountID ulid.ULID, now time.Time) (*VerificationToken, error) {
	if accountID == (ulid.ULID{}) {
		return nil, oops.Code("TOKEN_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	raw, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	return &VerificationToken{
		ID:        ulid.Make(),
		AccountID: accountID,
		Token:     raw,
		CreatedAt: now,
	}, nil
}

// IsExpired reports whether the token is older than ttl at now.
func (t *VerificationToken) IsExpired(ttl time.Duration, now time.Time) bool {
	return !now.Before(t.CreatedAt.Add(ttl))
}

// VerificationTokenRepository manages verification token persistence.
// Implementations are constructed with the retention window.
type VerificationTokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *VerificationToken) error

	// GetByToken retrieves a token by its raw value.
	// Returns ErrNotFound if no token matches or it is past retention.
	GetByToken(ctx context.Context, token string) (*VerificationToken, error)

	// DeleteExpired removes tokens past retention and returns how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account represents a registered identity.
//
// PasswordHash and the reset fields never leave the service; use View for
// anything serialized to clients.
type Account struct {
	ID             ulid.ULID
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	IsVerified     bool
	ResetTokenHash *string
	ResetExpiresAt *time.Time
	// Version is the optimistic-concurrency counter maintained by the store.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail lowercases and trims an email address. All lookups and
// writes go through it so that email uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewAccount creates an unverified Account with a fresh ID.
// The email is normalized; names must be non-empty.
func NewAccount(email, passwordHash, firstName, lastName string, now time.Time) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD_HASH").Errorf("password hash cannot be empty")
	}
	if err := ValidateName("firstName", firstName); err != nil {
		return nil, err
	}
	if err := ValidateName("lastName", lastName); err != nil {
		return nil, err
	}

	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateName rejects blank first or last names.
func ValidateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return oops.Code(CodeInvalidName).
			With("field", field).
			Errorf("%s cannot be empty", field)
	}
	return nil
}

// MarkVerified flips IsVerified. It reports false if the account was
// already verified, in which case nothing changes.
func (a *Account) MarkVerified(now time.Time) bool {
	if a.IsVerified {
		return false
	}
	a.IsVerified = true
	a.UpdatedAt = now
	return true
}

// SetResetToken stores the hash of a freshly issued reset token, replacing
// any previous one.
func (a *Account) SetResetToken(tokenHash string, expiresAt, now time.Time) {
	a.ResetTokenHash = &tokenHash
	a.ResetExpiresAt = &expiresAt
	a.UpdatedAt = now
}

// ClearResetToken removes the reset credential.
func (a *Account) ClearResetToken(now time.Time) {
	a.ResetTokenHash = nil
	a.ResetExpiresAt = nil
	a.UpdatedAt = now
}

// ResetTokenLive reports whether the stored reset credential is still valid at now.
func (a *Account) ResetTokenLive(now time.Time) bool {
	return a.ResetTokenHash != nil && a.ResetExpiresAt != nil && now.Before(*a.ResetExpiresAt)
}

// AccountView is the external representation of an Account.
type AccountView struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// View returns the client-safe projection of the account.
func (a *Account) View() AccountView {
	return AccountView{
		ID:         a.ID.String(),
		Email:      a.Email,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		IsVerified: a.IsVerified,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account.
	// Returns an error wrapping ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	// Returns ErrNotFound if no account has the given ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByResetToken retrieves the account holding the given reset token
	// hash whose expiry is after now.
	// Returns ErrNotFound if none matches or the token has expired.
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*Account, error)

	// Update persists an account, conditional on its Version being current.
	// On success the account's Version is advanced.
	// Returns ErrConflict if another writer updated the account first, or
	// ErrNotFound if it no longer exists.
	Update(ctx context.Context, account *Account) error
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	DefaultSessionTTL    = 30 * time.Minute
	DefaultSessionIssuer = "identity"
	MinSecretLength      = 32
)

// Identity is the account identity asserted by a session token.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// sessionClaims is the JWT payload. AccountID is serialized as "id" so the
// payload reads {id, email, firstName, lastName, exp, iat, iss}.
type sessionClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// SessionIssuer signs and verifies HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// SessionOption configures a SessionIssuer.
type SessionOption func(*SessionIssuer)

// WithSessionClock overrides the issuer's time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionIssuer) { s.now = now }
}

// WithSessionIssuerName sets the "iss" claim issued and required.
func WithSessionIssuerName(name string) SessionOption {
	return func(s *SessionIssuer) { s.issuer = name }
}

// NewSessionIssuer creates a SessionIssuer. The secret is copied and must be
// at least MinSecretLength bytes; ttl <= 0 selects DefaultSessionTTL.
func NewSessionIssuer(secret []byte, ttl time.Duration, opts ...SessionOption) (*SessionIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("SESSION_SECRET_INVALID").
			With("min_length", MinSecretLength).
			Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	s := &SessionIssuer{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the session lifetime.
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue signs a session token for the account.
func (s *SessionIssuer) Issue(account *Account) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AccountID: account.ID.String(),
		Email:     account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_SIGN_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Verify validates signature, algorithm, and expiry, returning the asserted
// identity. Every failure is reported with the single code SESSION_INVALID.
func (s *SessionIssuer) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, oops.Code(CodeSessionInvalid).Errorf("session token cannot be empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, oops.Code(CodeSessionInvalid).Wrapf(err, "invalid session token")
	}
	if !parsed.Valid {
		return nil, oops.Code(CodeSessionInvalid).Errorf("invalid session token")
	}
	if claims.AccountID == "" {
		return nil, oops.Code(CodeSessionInvalid).Errorf("session token has no account id")
	}

	return &Identity{
		ID:        claims.AccountID,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}, nil
}

type identityKey struct{}

// ContextWithIdentity returns a copy of ctx carrying the identity.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by the authorization
// gate, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/identity/internal/auth"
)

// memStore is an in-memory account and verification token store with the
// same uniqueness, compare-and-write, and retention semantics as the
// PostgreSQL repositories.
type memStore struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]auth.Account
	tokens   map[string]auth.VerificationToken
	ttl      time.Duration
	now      func() time.Time
}

func newMemStore(ttl time.Duration, now func() time.Time) *memStore {
	return &memStore{
		accounts: make(map[ulid.ULID]auth.Account),
		tokens:   make(map[string]auth.VerificationToken),
		ttl:      ttl,
		now:      now,
	}
}

func (s *memStore) Create(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == account.Email {
			return auth.ErrDuplicateEmail
		}
	}
	account.Version = 1
	s.accounts[account.ID] = *account
	return nil
}

func (s *memStore) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &a, nil
}

func (s *memStore) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *memStore) GetByResetToken(_ context.Context, tokenHash string, now time.Time) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ResetTokenHash != nil && *a.ResetTokenHash == tokenHash && a.ResetTokenLive(now) {
			return &a, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *memStore) Update(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[account.ID]
	if !ok {
		return auth.ErrNotFound
	}
	if current.Version != account.Version {
		return auth.ErrConflict
	}
	account.Version++
	s.accounts[account.ID] = *account
	return nil
}

func (s *memStore) account(email string) auth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return a
		}
	}
	return auth.Account{}
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// tokenStore exposes the verification token half of memStore.
type tokenStore struct{ *memStore }

func (t tokenStore) Create(_ context.Context, token *auth.VerificationToken) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token.Token] = *token
	return nil
}

func (t tokenStore) GetByToken(_ context.Context, token string) (*auth.VerificationToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vt, ok := t.tokens[token]
	if !ok || vt.IsExpired(t.ttl, t.now()) {
		return nil, auth.ErrNotFound
	}
	return &vt, nil
}

func (t tokenStore) DeleteExpired(_ context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for k, vt := range t.tokens {
		if vt.IsExpired(t.ttl, t.now()) {
			delete(t.tokens, k)
			n++
		}
	}
	return n, nil
}

// outbox records every mail handed to it.
type outbox struct {
	mu    sync.Mutex
	mails []auth.Mail
	err   error
}

func (o *outbox) Send(_ context.Context, mail auth.Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mails = append(o.mails, mail)
	return o.err
}

func (o *outbox) all() []auth.Mail {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]auth.Mail(nil), o.mails...)
}

func (o *outbox) last() auth.Mail {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.mails) == 0 {
		return auth.Mail{}
	}
	return o.mails[len(o.mails)-1]
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder captures lifecycle outcomes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) RecordAuthEvent(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, operation+":"+outcome)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

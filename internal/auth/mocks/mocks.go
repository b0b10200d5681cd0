// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/identity/internal/auth"
)

// testingT is the subset of *testing.T the constructors need.
type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository is a mock auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock that asserts its expectations at cleanup.
func NewMockAccountRepository(t testingT) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	return accountArg(args, 0), args.Error(1)
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	return accountArg(args, 0), args.Error(1)
}

func (m *MockAccountRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*auth.Account, error) {
	args := m.Called(ctx, tokenHash, now)
	return accountArg(args, 0), args.Error(1)
}

func (m *MockAccountRepository) Update(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// accountArg returns a copy of the configured account so callers mutating
// their result never alter the fixture.
func accountArg(args mock.Arguments, i int) *auth.Account {
	v := args.Get(i)
	if v == nil {
		return nil
	}
	if fn, ok := v.(func() *auth.Account); ok {
		return fn()
	}
	a := *v.(*auth.Account) //nolint:forcetypeassert // fixture type is fixed
	return &a
}

// MockVerificationTokenRepository is a mock auth.VerificationTokenRepository.
type MockVerificationTokenRepository struct {
	mock.Mock
}

// NewMockVerificationTokenRepository creates a mock that asserts its expectations at cleanup.
func NewMockVerificationTokenRepository(t testingT) *MockVerificationTokenRepository {
	m := &MockVerificationTokenRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockVerificationTokenRepository) Create(ctx context.Context, token *auth.VerificationToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockVerificationTokenRepository) GetByToken(ctx context.Context, token string) (*auth.VerificationToken, error) {
	args := m.Called(ctx, token)
	if v := args.Get(0); v != nil {
		return v.(*auth.VerificationToken), args.Error(1) //nolint:forcetypeassert // fixture type is fixed
	}
	return nil, args.Error(1)
}

func (m *MockVerificationTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1) //nolint:forcetypeassert // fixture type is fixed
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations at cleanup.
func NewMockPasswordHasher(t testingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) bool {
	return m.Called(password, hash).Bool(0)
}

func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockSessionSigner is a mock auth.SessionSigner.
type MockSessionSigner struct {
	mock.Mock
}

// NewMockSessionSigner creates a mock that asserts its expectations at cleanup.
func NewMockSessionSigner(t testingT) *MockSessionSigner {
	m := &MockSessionSigner{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSessionSigner) Issue(account *auth.Account) (string, time.Time, error) {
	args := m.Called(account)
	return args.String(0), args.Get(1).(time.Time), args.Error(2) //nolint:forcetypeassert // fixture type is fixed
}

// MockNotifier is a mock auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a mock that asserts its expectations at cleanup.
func NewMockNotifier(t testingT) *MockNotifier {
	m := &MockNotifier{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockNotifier) Send(ctx context.Context, mail auth.Mail) error {
	return m.Called(ctx, mail).Error(0)
}

var (
	_ auth.AccountRepository           = (*MockAccountRepository)(nil)
	_ auth.VerificationTokenRepository = (*MockVerificationTokenRepository)(nil)
	_ auth.PasswordHasher              = (*MockPasswordHasher)(nil)
	_ auth.SessionSigner               = (*MockSessionSigner)(nil)
	_ auth.Notifier                    = (*MockNotifier)(nil)
)

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/identity/internal/auth"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Register(ctx context.Context, in auth.RegisterInput) (*auth.Account, error) {
	args := m.Called(ctx, in)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

func (m *mockService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	args := m.Called(ctx, email, password)
	result, _ := args.Get(0).(*auth.LoginResult)
	return result, args.Error(1)
}

func (m *mockService) VerifyEmail(ctx context.Context, rawToken string) error {
	return m.Called(ctx, rawToken).Error(0)
}

func (m *mockService) ResendVerification(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockService) RequestPasswordReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	return m.Called(ctx, rawToken, newPassword).Error(0)
}

func (m *mockService) GetAccount(ctx context.Context, actor *auth.Identity, id string) (*auth.Account, error) {
	args := m.Called(ctx, actor, id)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

func (m *mockService) UpdateProfile(ctx context.Context, actor *auth.Identity, id string, update auth.ProfileUpdate) (*auth.Account, error) {
	args := m.Called(ctx, actor, id, update)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

var _ AccountService = (*mockService)(nil)

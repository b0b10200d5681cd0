// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned by stores when an account with the same
// normalized email already exists.
var ErrDuplicateEmail = errors.New("duplicate email")

// ErrConflict is returned by stores when a conditional write lost a race.
var ErrConflict = errors.New("concurrent modification")

// Error codes surfaced by the lifecycle service. They are stable and
// mapped to client responses by the HTTP layer.
const (
	CodeDuplicateEmail     = "AUTH_DUPLICATE_EMAIL"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeEmailNotVerified   = "AUTH_EMAIL_NOT_VERIFIED"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeAlreadyVerified    = "AUTH_ALREADY_VERIFIED"
	CodeEmailNotFound      = "AUTH_EMAIL_NOT_FOUND"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeForbiddenAccount   = "AUTH_FORBIDDEN_ACCOUNT"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeInvalidName        = "AUTH_INVALID_NAME"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
)

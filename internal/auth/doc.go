// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements the identity and credential lifecycle.
//
// # Domain Types
//
// Account and VerificationToken should be created with their constructors:
//   - NewAccount - validates and normalizes email and names
//   - NewVerificationToken - attaches fresh random token data to an account
//
// Reset credentials live on the Account itself and are only ever stored as
// a SHA-256 hash (see GenerateResetToken).
//
// # Services
//
// Service coordinates the lifecycle: registration, login, email
// verification, verification resend, password reset request and
// completion, and self-service profile access. It depends on the
// repository interfaces, a PasswordHasher, a SessionSigner, and a Notifier.
//
// SessionIssuer signs and verifies the stateless session tokens handed
// out at login. The HTTP layer uses Verify to gate protected routes.
package auth

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/identity/pkg/errutil"
)

var tracer = otel.Tracer("identity/auth")

// Conflict retry policy for compare-and-write account updates.
const (
	conflictRetries = 3
	conflictBackoff = 10 * time.Millisecond
)

// SessionSigner issues session tokens for authenticated accounts.
type SessionSigner interface {
	Issue(account *Account) (token string, expiresAt time.Time, err error)
}

// Transactor runs fn so that the repository writes it makes through ctx
// commit or roll back together.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type directTransactor struct{}

func (directTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// EventRecorder receives one outcome per lifecycle operation.
type EventRecorder interface {
	RecordAuthEvent(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(string, string) {}

// ServiceConfig holds the collaborators of the lifecycle service.
type ServiceConfig struct {
	Accounts AccountRepository
	Tokens   VerificationTokenRepository
	Hasher   PasswordHasher
	Sessions SessionSigner
	Notifier Notifier
	Mails    *MailComposer
	// Transactor groups the writes of one registration. Nil runs them
	// without a transaction.
	Transactor Transactor
	// ResetTTL is the reset-token lifetime; zero selects DefaultResetTokenExpiry.
	ResetTTL time.Duration
}

// ServiceOption configures optional Service behavior.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the service time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventRecorder sets the recorder notified of every operation outcome.
func WithEventRecorder(r EventRecorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.events = r
		}
	}
}

// Service implements the account lifecycle: registration, login, email
// verification, and password recovery.
//
// Every operation persists its state change before any notification is
// attempted, and notification failures never fail the operation.
type Service struct {
	accounts AccountRepository
	tokens   VerificationTokenRepository
	hasher   PasswordHasher
	sessions SessionSigner
	notifier Notifier
	mails    *MailComposer
	tx       Transactor
	resetTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
	events   EventRecorder
	// dummyHash is verified against when a login names no account, so that
	// path costs the same as a real one under the configured parameters.
	dummyHash string
}

// NewService creates a Service. All collaborators in cfg are required.
func NewService(cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, oops.Errorf("account repository is required")
	case cfg.Tokens == nil:
		return nil, oops.Errorf("verification token repository is required")
	case cfg.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case cfg.Sessions == nil:
		return nil, oops.Errorf("session signer is required")
	case cfg.Notifier == nil:
		return nil, oops.Errorf("notifier is required")
	case cfg.Mails == nil:
		return nil, oops.Errorf("mail composer is required")
	}

	resetTTL := cfg.ResetTTL
	if resetTTL <= 0 {
		resetTTL = DefaultResetTokenExpiry
	}

	tx := cfg.Transactor
	if tx == nil {
		tx = directTransactor{}
	}

	s := &Service{
		accounts: cfg.Accounts,
		tokens:   cfg.Tokens,
		hasher:   cfg.Hasher,
		sessions: cfg.Sessions,
		notifier: cfg.Notifier,
		mails:    cfg.Mails,
		tx:       tx,
		resetTTL: resetTTL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.New(slog.DiscardHandler),
		events:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	secret, err := GenerateToken()
	if err != nil {
		return nil, oops.With("operation", "generate dummy password").Wrap(err)
	}
	if s.dummyHash, err = s.hasher.Hash(secret); err != nil {
		return nil, oops.With("operation", "hash dummy password").Wrap(err)
	}
	return s, nil
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginResult is a successful authentication.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   *Account
}

// ProfileUpdate carries optional profile changes; nil fields are left alone.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// Register creates an unverified account and mails a verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (account *Account, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { s.finish(span, "register", err) }()

	email := NormalizeEmail(in.Email)

	_, lookupErr := s.accounts.GetByEmail(ctx, email)
	switch {
	case lookupErr == nil:
		return nil, errDuplicateEmail()
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(lookupErr)
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	account, err = NewAccount(email, passwordHash, in.FirstName, in.LastName, s.now())
	if err != nil {
		return nil, err
	}

	// The account and its first token land together or not at all, so a
	// failed registration can simply be retried.
	var token *VerificationToken
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.accounts.Create(ctx, account); err != nil {
			// A concurrent registration can pass the lookup above; the
			// unique index decides the winner.
			if errors.Is(err, ErrDuplicateEmail) {
				return errDuplicateEmail()
			}
			return oops.Code("AUTH_REGISTER_FAILED").
				With("operation", "create account").
				Wrap(err)
		}
		var err error
		token, err = s.issueVerificationToken(ctx, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("account.id", account.ID.String()))

	s.notify(ctx, "verification", account, func() (Mail, error) {
		return s.mails.Verification(account, token.Token)
	})
	return account, nil
}

// Login authenticates an account and issues a session token.
// Unknown emails and wrong passwords fail identically; the verification
// state is only revealed once the password is known to be correct.
func (s *Service) Login(ctx context.Context, email, password string) (result *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { s.finish(span, "login", err) }()

	account, lookupErr := s.accounts.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := s.dummyHash
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
		account = nil
	} else {
		targetHash = account.PasswordHash
	}

	// Always verify, even for unknown accounts, so both paths cost the same.
	valid := s.hasher.Verify(password, targetHash)
	if account == nil || !valid {
		return nil, errInvalidCredentials()
	}

	if !account.IsVerified {
		return nil, oops.Code(CodeEmailNotVerified).Errorf("Email not verified")
	}

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		s.upgradeHash(ctx, account, password)
	}

	token, expiresAt, err := s.sessions.Issue(account)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt, Account: account}, nil
}

// VerifyEmail consumes a verification token and marks its account verified.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.verify_email")
	defer func() { s.finish(span, "verify_email", err) }()

	if rawToken == "" {
		return errInvalidToken()
	}

	token, err := s.tokens.GetByToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errInvalidToken()
		}
		return oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "get verification token").
			Wrap(err)
	}

	_, err = s.mutateAccount(ctx,
		func(ctx context.Context) (*Account, error) {
			account, err := s.accounts.GetByID(ctx, token.AccountID)
			if errors.Is(err, ErrNotFound) {
				return nil, errInvalidToken()
			}
			return account, err
		},
		func(account *Account) error {
			if !account.MarkVerified(s.now()) {
				return errAlreadyVerified()
			}
			return nil
		},
	)
	if err != nil {
		return s.wrapMutation(err, "AUTH_VERIFY_FAILED", "verify account")
	}
	return nil
}

// ResendVerification issues an additional verification token for an
// unverified account. Earlier tokens stay valid.
func (s *Service) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.resend_verification")
	defer func() { s.finish(span, "resend_verification", err) }()

	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errEmailNotFound()
		}
		return oops.Code("AUTH_RESEND_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	if account.IsVerified {
		return errAlreadyVerified()
	}

	token, err := s.issueVerificationToken(ctx, account)
	if err != nil {
		return err
	}

	s.notify(ctx, "verification", account, func() (Mail, error) {
		return s.mails.Verification(account, token.Token)
	})
	return nil
}

// RequestPasswordReset stores a fresh reset credential, replacing any
// previous one, and mails the reset link.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.request_password_reset")
	defer func() { s.finish(span, "request_password_reset", err) }()

	email = NormalizeEmail(email)

	token, tokenHash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("AUTH_RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	account, err := s.mutateAccount(ctx,
		func(ctx context.Context) (*Account, error) {
			account, err := s.accounts.GetByEmail(ctx, email)
			if errors.Is(err, ErrNotFound) {
				return nil, errEmailNotFound()
			}
			return account, err
		},
		func(account *Account) error {
			now := s.now()
			account.SetResetToken(tokenHash, now.Add(s.resetTTL), now)
			return nil
		},
	)
	if err != nil {
		return s.wrapMutation(err, "AUTH_RESET_REQUEST_FAILED", "store reset token")
	}

	s.notify(ctx, "reset_request", account, func() (Mail, error) {
		return s.mails.ResetRequest(account, token)
	})
	return nil
}

// ResetPassword consumes a live reset token, replaces the password, and
// marks the account verified. A token can be consumed at most once.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.reset_password")
	defer func() { s.finish(span, "reset_password", err) }()

	if rawToken == "" {
		return errInvalidToken()
	}
	tokenHash := HashResetToken(rawToken)

	var newHash string
	account, err := s.mutateAccount(ctx,
		func(ctx context.Context) (*Account, error) {
			account, err := s.accounts.GetByResetToken(ctx, tokenHash, s.now())
			if errors.Is(err, ErrNotFound) {
				return nil, errInvalidToken()
			}
			return account, err
		},
		func(account *Account) error {
			if newHash == "" {
				h, err := s.hasher.Hash(newPassword)
				if err != nil {
					return oops.With("operation", "hash password").Wrap(err)
				}
				newHash = h
			}
			now := s.now()
			account.PasswordHash = newHash
			account.ClearResetToken(now)
			account.MarkVerified(now)
			return nil
		},
	)
	if err != nil {
		return s.wrapMutation(err, "AUTH_RESET_FAILED", "reset password")
	}

	s.notify(ctx, "reset_complete", account, func() (Mail, error) {
		return s.mails.ResetComplete(account)
	})
	return nil
}

// GetAccount returns the account identified by id, provided it is the
// caller's own account.
func (s *Service) GetAccount(ctx context.Context, actor *Identity, id string) (account *Account, err error) {
	ctx, span := tracer.Start(ctx, "auth.get_account")
	defer func() { s.finish(span, "get_account", err) }()

	accountID, err := authorizeSelf(actor, id)
	if err != nil {
		return nil, err
	}

	account, err = s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errAccountNotFound()
		}
		return nil, oops.Code("AUTH_GET_ACCOUNT_FAILED").
			With("operation", "get account by id").
			With("account_id", id).
			Wrap(err)
	}
	return account, nil
}

// UpdateProfile changes the caller's own names.
func (s *Service) UpdateProfile(ctx context.Context, actor *Identity, id string, update ProfileUpdate) (account *Account, err error) {
	ctx, span := tracer.Start(ctx, "auth.update_profile")
	defer func() { s.finish(span, "update_profile", err) }()

	accountID, err := authorizeSelf(actor, id)
	if err != nil {
		return nil, err
	}
	if update.FirstName != nil {
		if err := ValidateName("firstName", *update.FirstName); err != nil {
			return nil, err
		}
	}
	if update.LastName != nil {
		if err := ValidateName("lastName", *update.LastName); err != nil {
			return nil, err
		}
	}

	account, err = s.mutateAccount(ctx,
		func(ctx context.Context) (*Account, error) {
			account, err := s.accounts.GetByID(ctx, accountID)
			if errors.Is(err, ErrNotFound) {
				return nil, errAccountNotFound()
			}
			return account, err
		},
		func(account *Account) error {
			if update.FirstName != nil {
				account.FirstName = strings.TrimSpace(*update.FirstName)
			}
			if update.LastName != nil {
				account.LastName = strings.TrimSpace(*update.LastName)
			}
			account.UpdatedAt = s.now()
			return nil
		},
	)
	if err != nil {
		return nil, s.wrapMutation(err, "AUTH_UPDATE_PROFILE_FAILED", "update profile")
	}
	return account, nil
}

// PurgeExpiredTokens removes verification tokens past retention.
// Lookups never return expired tokens, so this only reclaims space.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("AUTH_PURGE_FAILED").
			With("operation", "delete expired verification tokens").
			Wrap(err)
	}
	return n, nil
}

// RunTokenJanitor purges expired verification tokens every interval until
// ctx is done.
func (s *Service) RunTokenJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpiredTokens(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errutil.LogErrorContext(ctx, s.logger, "token purge failed", err)
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "purged expired verification tokens", "count", n)
			}
		}
	}
}

func (s *Service) issueVerificationToken(ctx context.Context, account *Account) (*VerificationToken, error) {
	token, err := NewVerificationToken(account.ID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, oops.Code("AUTH_TOKEN_CREATE_FAILED").
			With("operation", "create verification token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return token, nil
}

// mutateAccount loads an account, applies mutate, and writes it back with
// compare-and-write semantics, reloading and retrying when another writer
// wins the race. Errors from load and mutate end the attempt as-is.
func (s *Service) mutateAccount(
	ctx context.Context,
	load func(context.Context) (*Account, error),
	mutate func(*Account) error,
) (*Account, error) {
	backoff := retry.WithMaxRetries(conflictRetries, retry.NewConstant(conflictBackoff))
	//nolint:wrapcheck // callers classify and wrap
	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*Account, error) {
		account, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := mutate(account); err != nil {
			return nil, err
		}
		if err := s.accounts.Update(ctx, account); err != nil {
			if errors.Is(err, ErrConflict) {
				s.logger.DebugContext(ctx, "account update conflict, retrying",
					"account_id", account.ID.String())
				return nil, retry.RetryableError(err)
			}
			return nil, err
		}
		return account, nil
	})
}

// wrapMutation passes domain errors through untouched and wraps anything
// else under code.
func (s *Service) wrapMutation(err error, code, operation string) error {
	if isDomainCode(errutil.Code(err)) {
		return err
	}
	return oops.Code(code).With("operation", operation).Wrap(err)
}

func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "password hash upgrade failed", err,
			"account_id", account.ID.String())
		return
	}
	previous := account.PasswordHash
	account.PasswordHash = newHash
	if err := s.accounts.Update(ctx, account); err != nil {
		account.PasswordHash = previous
		s.logger.WarnContext(ctx, "failed to persist upgraded password hash",
			"account_id", account.ID.String(), "error", err)
	}
}

// notify renders and hands a mail to the notifier. Failures are logged and
// otherwise ignored.
func (s *Service) notify(ctx context.Context, kind string, account *Account, render func() (Mail, error)) {
	mail, err := render()
	if err == nil {
		err = s.notifier.Send(ctx, mail)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "notification not sent", err,
			"kind", kind,
			"account_id", account.ID.String())
	}
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if code := errutil.Code(err); isDomainCode(code) {
			outcome = code
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("auth.outcome", outcome))
	}
	span.End()
	s.events.RecordAuthEvent(operation, outcome)
}

func authorizeSelf(actor *Identity, id string) (ulid.ULID, error) {
	if actor == nil || actor.ID != id {
		return ulid.ULID{}, oops.Code(CodeForbiddenAccount).
			Errorf("You are not authorized to access this user")
	}
	accountID, err := ulid.Parse(id)
	if err != nil {
		return ulid.ULID{}, errAccountNotFound()
	}
	return accountID, nil
}

var domainCodes = map[string]struct{}{
	CodeDuplicateEmail:     {},
	CodeInvalidCredentials: {},
	CodeEmailNotVerified:   {},
	CodeInvalidToken:       {},
	CodeAlreadyVerified:    {},
	CodeEmailNotFound:      {},
	CodeAccountNotFound:    {},
	CodeForbiddenAccount:   {},
	CodeInvalidName:        {},
	CodeInvalidEmail:       {},
	CodeEmptyPassword:      {},
}

func isDomainCode(code string) bool {
	_, ok := domainCodes[code]
	return ok
}

func errDuplicateEmail() error {
	return oops.Code(CodeDuplicateEmail).Errorf("Email already in use")
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("Invalid credentials")
}

func errInvalidToken() error {
	return oops.Code(CodeInvalidToken).Errorf("Invalid token")
}

func errAlreadyVerified() error {
	return oops.Code(CodeAlreadyVerified).Errorf("Email already verified")
}

func errEmailNotFound() error {
	return oops.Code(CodeEmailNotFound).Errorf("Email not found")
}

func errAccountNotFound() error {
	return oops.Code(CodeAccountNotFound).Errorf("User not found")
}

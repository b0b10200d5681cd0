// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

// Package integration drives the identity API end to end against a real
// PostgreSQL database.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/identity/internal/api"
	"github.com/holomush/identity/internal/auth"
	authpg "github.com/holomush/identity/internal/auth/postgres"
	"github.com/holomush/identity/internal/mail"
	"github.com/holomush/identity/internal/store"
)

const sessionSecret = "integration-secret-0123456789abcdef"

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Identity Integration Suite")
}

// testEnv is a running identity API over a PostgreSQL container.
type testEnv struct {
	ctx        context.Context
	cancel     context.CancelFunc
	container  testcontainers.Container
	pool       *pgxpool.Pool
	server     *httptest.Server
	dispatcher *mail.Dispatcher
	outbox     *outbox
	sessions   *auth.SessionIssuer
}

// outbox is a mail transport that keeps every delivered mail.
type outbox struct {
	mu    sync.Mutex
	mails []auth.Mail
}

func (o *outbox) Deliver(_ context.Context, m auth.Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mails = append(o.mails, m)
	return nil
}

// latest returns the newest mail to addr with subject, or false.
func (o *outbox) latest(addr, subject string) (auth.Mail, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.mails) - 1; i >= 0; i-- {
		if o.mails[i].To == addr && o.mails[i].Subject == subject {
			return o.mails[i], true
		}
	}
	return auth.Mail{}, false
}

var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// linkPath extracts the path of the first link in a mail body.
func linkPath(m auth.Mail) string {
	match := hrefPattern.FindStringSubmatch(m.HTML)
	if match == nil {
		return ""
	}
	u, err := url.Parse(match[1])
	if err != nil {
		return ""
	}
	return u.Path
}

func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel, outbox: &outbox{}}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("identity_test"),
		postgres.WithUsername("identity"),
		postgres.WithPassword("identity"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	if env.pool, err = store.Connect(ctx, connStr, store.PoolOptions{}); err != nil {
		env.cleanup()
		return nil, err
	}

	logger := slog.New(slog.DiscardHandler)
	env.dispatcher, err = mail.NewDispatcher(env.outbox, mail.WithLogger(logger))
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.dispatcher.Start(ctx)

	env.sessions, err = auth.NewSessionIssuer([]byte(sessionSecret), auth.DefaultSessionTTL,
		auth.WithSessionIssuerName(auth.DefaultSessionIssuer))
	if err != nil {
		env.cleanup()
		return nil, err
	}

	// The listener exists before the server starts, so mailed links can
	// point back at it.
	env.server = httptest.NewUnstartedServer(nil)
	publicURL := "http://" + env.server.Listener.Addr().String()

	composer, err := auth.NewMailComposer("no-reply@identity.test", publicURL)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	svc, err := auth.NewService(auth.ServiceConfig{
		Accounts: authpg.NewAccountRepository(env.pool),
		Tokens:   authpg.NewVerificationTokenRepository(env.pool, auth.DefaultVerificationTTL),
		// Minimum cost keeps the suite fast.
		Hasher:     auth.NewArgon2idHasherWithParams(auth.Argon2Params{Memory: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}),
		Sessions:   env.sessions,
		Notifier:   env.dispatcher,
		Mails:      composer,
		Transactor: authpg.NewTransactor(env.pool),
	}, auth.WithLogger(logger))
	if err != nil {
		env.cleanup()
		return nil, err
	}

	handler, err := api.NewHandler(api.Config{Service: svc, Sessions: env.sessions, Logger: logger})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.server.Config.Handler = handler
	env.server.Start()
	return env, nil
}

func (e *testEnv) cleanup() {
	if e.server != nil {
		e.server.Close()
	}
	if e.dispatcher != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = e.dispatcher.Close(closeCtx)
		cancel()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(context.Background())
	}
	e.cancel()
}

// response is a decoded API reply.
type response struct {
	status int
	body   map[string]any
}

func (r response) errorMessages() []string {
	var out []string
	errs, _ := r.body["errors"].([]any)
	for _, e := range errs {
		if m, ok := e.(map[string]any); ok {
			msg, _ := m["message"].(string)
			out = append(out, msg)
		}
	}
	return out
}

func (e *testEnv) call(method, path string, payload any, bearer string) (response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return response{}, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(e.ctx, method, e.server.URL+path, body)
	if err != nil {
		return response{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	out := response{status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&out.body); err != nil && err != io.EOF {
		return response{}, err
	}
	return out, nil
}

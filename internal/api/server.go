// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package api serves the account lifecycle over HTTP/JSON.
//
// Public routes live under /api/auth. Profile routes under /api/users sit
// behind the authorization gate and require a bearer session token.
// Every failure, including unknown routes, is answered with the
// {status, errors:[{message, field?}]} envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the collaborators of the HTTP surface.
type Config struct {
	Service        AccountService
	Sessions       SessionVerifier
	AllowedOrigins []string
	Observer       RequestObserver
	Logger         *slog.Logger
}

// NewHandler builds the routed, instrumented API handler.
func NewHandler(cfg Config) (http.Handler, error) {
	switch {
	case cfg.Service == nil:
		return nil, oops.Errorf("account service is required")
	case cfg.Sessions == nil:
		return nil, oops.Errorf("session verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var observer RequestObserver = nopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}

	v, err := newValidator(
		&registerRequest{},
		&loginRequest{},
		&emailRequest{},
		&resetRequest{},
		&profileRequest{},
	)
	if err != nil {
		return nil, err
	}
	corsPolicy, err := newCORS(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	h := &handlers{svc: cfg.Service, validate: v, logger: logger}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(h.notImplemented)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.notImplemented)

	authRoutes := router.PathPrefix("/api/auth").Subrouter()
	authRoutes.HandleFunc("/register", h.register).Methods(http.MethodPost)
	authRoutes.HandleFunc("/login", h.login).Methods(http.MethodPost)
	authRoutes.HandleFunc("/verify/resend", h.resendVerification).Methods(http.MethodPost)
	authRoutes.HandleFunc("/verify/{token}", h.verifyEmail).Methods(http.MethodGet)
	authRoutes.HandleFunc("/reset", h.requestPasswordReset).Methods(http.MethodPost)
	authRoutes.HandleFunc("/reset/{token}", h.resetPassword).Methods(http.MethodPost)

	users := router.PathPrefix("/api/users").Subrouter()
	users.Use(requireSession(cfg.Sessions, logger))
	users.HandleFunc("/me", h.me).Methods(http.MethodGet)
	users.HandleFunc("/{id}", h.showUser).Methods(http.MethodGet)
	users.HandleFunc("/{id}", h.updateUser).Methods(http.MethodPut)

	var handler http.Handler = router
	handler = instrument(router, logger, observer)(handler)
	handler = corsPolicy.Handler(handler)
	handler = otelhttp.NewHandler(handler, "identity.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeTemplate(router, r)
		}))
	return handler, nil
}

// Server serves the API on a TCP listener.
type Server struct {
	addr              string
	handler           http.Handler
	readHeaderTimeout time.Duration
	logger            *slog.Logger

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a Server for handler.
func NewServer(addr string, handler http.Handler, readHeaderTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}
	return &Server{
		addr:              addr,
		handler:           handler,
		readHeaderTimeout: readHeaderTimeout,
		logger:            logger,
	}
}

// Start begins serving. The returned channel receives a serve error if the
// server fails after starting, and is closed when it stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("API_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.readHeaderTimeout,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown_api_server").Wrap(err)
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

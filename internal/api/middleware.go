// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gobwas/glob"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/samber/oops"

	"github.com/holomush/identity/internal/auth"
)

// SessionVerifier resolves a bearer token into an identity.
type SessionVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// RequestObserver records completed requests.
type RequestObserver interface {
	ObserveHTTPRequest(route, method string, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveHTTPRequest(string, string, int, time.Duration) {}

// requireSession is the authorization gate. A request passes only with a
// valid "Authorization: Bearer <token>" header; every failure produces the
// same 401 so callers cannot tell a malformed token from an expired one.
func requireSession(sessions SessionVerifier, logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, r, logger, errUnauthorized("missing authorization header"))
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				writeError(w, r, logger, errUnauthorized("malformed authorization header"))
				return
			}

			identity, err := sessions.Verify(strings.TrimSpace(token))
			if err != nil {
				logger.DebugContext(r.Context(), "session rejected", "error", err)
				writeError(w, r, logger, errUnauthorized("invalid session"))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func errUnauthorized(reason string) error {
	return oops.Code(CodeUnauthorized).With("reason", reason).Errorf("Not authorized")
}

// instrument logs and measures every request, labelling it with the
// matched route template so path parameters do not explode cardinality.
func instrument(router *mux.Router, logger *slog.Logger, observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeTemplate(router, r)
			m := httpsnoop.CaptureMetrics(next, w, r)

			observer.ObserveHTTPRequest(route, r.Method, m.Code, m.Duration)

			level := slog.LevelInfo
			if m.Code >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"route", route,
				"path", r.URL.Path,
				"status", m.Code,
				"bytes", m.Written,
				"duration", m.Duration)
		})
	}
}

func routeTemplate(router *mux.Router, r *http.Request) string {
	var match mux.RouteMatch
	if router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// newCORS builds the CORS policy. Origins are glob patterns where "*"
// stays within one dot-separated label; an empty list disables
// cross-origin access.
func newCORS(patterns []string) (*cors.Cors, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, oops.Code("CORS_ORIGIN_INVALID").With("pattern", p).Wrap(err)
		}
		globs = append(globs, g)
	}

	return cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			for _, g := range globs {
				if g.Match(origin) {
					return true
				}
			}
			return false
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	}), nil
}

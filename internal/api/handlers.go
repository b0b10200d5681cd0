// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/holomush/identity/internal/auth"
)

// AccountService is the lifecycle surface served over HTTP.
type AccountService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Account, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	VerifyEmail(ctx context.Context, rawToken string) error
	ResendVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	GetAccount(ctx context.Context, actor *auth.Identity, id string) (*auth.Account, error)
	UpdateProfile(ctx context.Context, actor *auth.Identity, id string, update auth.ProfileUpdate) (*auth.Account, error)
}

// Success messages.
const (
	msgEmailVerified    = "Email verified"
	msgVerificationSent = "Verification email sent"
	msgResetSent        = "Email sent"
	msgPasswordChanged  = "Password changed successfully"
)

type messageResponse struct {
	Message string `json:"message"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// profileView is the account as shown on the profile routes.
type profileView struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	IsVerified bool   `json:"isVerified"`
}

func newProfileView(a *auth.Account) profileView {
	return profileView{
		ID:         a.ID.String(),
		Email:      a.Email,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		IsVerified: a.IsVerified,
	}
}

type handlers struct {
	svc      AccountService
	validate *validator
	logger   *slog.Logger
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.logger, err)
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.validate.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	account, err := h.svc.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account.View())
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.validate.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: result.Token, ExpiresAt: result.ExpiresAt})
}

func (h *handlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.VerifyEmail(r.Context(), mux.Vars(r)["token"]); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgEmailVerified})
}

func (h *handlers) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := h.validate.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.svc.ResendVerification(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgVerificationSent})
}

func (h *handlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := h.validate.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetSent})
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := h.validate.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	// Mismatched confirmation never reaches the service.
	if req.Password != req.ConfirmPassword {
		h.fail(w, r, invalidRequest(ErrorDetail{Message: msgPasswordsDontMatch, Field: "confirmPassword"}))
		return
	}

	if err := h.svc.ResetPassword(r.Context(), mux.Vars(r)["token"], req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordChanged})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.showAccount(w, r, actor, actor.ID)
}

func (h *handlers) showUser(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.showAccount(w, r, actor, mux.Vars(r)["id"])
}

func (h *handlers) showAccount(w http.ResponseWriter, r *http.Request, actor *auth.Identity, id string) {
	account, err := h.svc.GetAccount(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(account))
}

func (h *handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req profileRequest
	if err := h.validate.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	account, err := h.svc.UpdateProfile(r.Context(), actor, mux.Vars(r)["id"], auth.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(account))
}

func (h *handlers) notImplemented(w http.ResponseWriter, r *http.Request) {
	h.fail(w, r, oops.Code(CodeRouteNotImplemented).
		With("method", r.Method).
		With("path", r.URL.Path).
		Errorf("route not implemented"))
}

// actorFrom returns the identity attached by the authorization gate.
func actorFrom(r *http.Request) (*auth.Identity, error) {
	actor, ok := auth.IdentityFromContext(r.Context())
	if !ok || actor == nil {
		return nil, errUnauthorized("no identity on request")
	}
	return actor, nil
}

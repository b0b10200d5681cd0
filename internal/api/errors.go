// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/holomush/identity/internal/auth"
	"github.com/holomush/identity/pkg/errutil"
)

// Error codes raised by the HTTP layer itself.
const (
	CodeRequestInvalid      = "REQUEST_INVALID"
	CodeUnauthorized        = "AUTH_UNAUTHORIZED"
	CodeRouteNotImplemented = "ROUTE_NOT_IMPLEMENTED"
)

// ErrorDetail is one entry of an error response.
type ErrorDetail struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status int           `json:"status"`
	Errors []ErrorDetail `json:"errors"`
}

type errorMapping struct {
	status  int
	message string
	field   string
}

// errorMappings translates stable error codes into client responses.
// Anything not listed is an internal error.
var errorMappings = map[string]errorMapping{
	auth.CodeDuplicateEmail:     {http.StatusBadRequest, "Email already in use", ""},
	auth.CodeInvalidCredentials: {http.StatusBadRequest, "Invalid credentials", ""},
	auth.CodeEmailNotVerified:   {http.StatusBadRequest, "Email not verified", ""},
	auth.CodeInvalidToken:       {http.StatusBadRequest, "Invalid token", ""},
	auth.CodeAlreadyVerified:    {http.StatusBadRequest, "Email already verified", ""},
	auth.CodeEmailNotFound:      {http.StatusBadRequest, "Email not found", ""},
	auth.CodeInvalidEmail:       {http.StatusBadRequest, msgInvalidEmail, "email"},
	auth.CodeEmptyPassword:      {http.StatusBadRequest, msgPasswordTooShort, "password"},
	auth.CodeSessionInvalid:     {http.StatusUnauthorized, "Not authorized", ""},
	CodeUnauthorized:            {http.StatusUnauthorized, "Not authorized", ""},
	auth.CodeForbiddenAccount:   {http.StatusUnauthorized, "You are not authorized to access this user", ""},
	auth.CodeAccountNotFound:    {http.StatusNotFound, "User not found", ""},
	CodeRouteNotImplemented:     {http.StatusNotImplemented, "Not implemented", ""},
}

// nameMessages are the per-field messages for AUTH_INVALID_NAME.
var nameMessages = map[string]string{
	"firstName": msgFirstNameRequired,
	"lastName":  msgLastNameRequired,
}

// toResponse maps err to a status and envelope. The second result reports
// whether err is unexpected and must be logged.
func toResponse(err error) (ErrorResponse, bool) {
	code := errutil.Code(err)

	if code == CodeRequestInvalid {
		return ErrorResponse{Status: http.StatusBadRequest, Errors: requestErrorDetails(err)}, false
	}

	if code == auth.CodeInvalidName {
		field, _ := contextValue(err, "field").(string)
		msg, ok := nameMessages[field]
		if !ok {
			msg = "Invalid value"
		}
		return ErrorResponse{
			Status: http.StatusBadRequest,
			Errors: []ErrorDetail{{Message: msg, Field: field}},
		}, false
	}

	if m, ok := errorMappings[code]; ok {
		return ErrorResponse{
			Status: m.status,
			Errors: []ErrorDetail{{Message: m.message, Field: m.field}},
		}, false
	}

	return ErrorResponse{
		Status: http.StatusInternalServerError,
		Errors: []ErrorDetail{{Message: "Something went wrong"}},
	}, true
}

func requestErrorDetails(err error) []ErrorDetail {
	details, ok := contextValue(err, "fields").([]ErrorDetail)
	if !ok || len(details) == 0 {
		return []ErrorDetail{{Message: "Invalid request"}}
	}
	return details
}

func contextValue(err error, key string) any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away; nothing left to report to
	json.NewEncoder(w).Encode(v)
}

// writeError sends the envelope for err, logging anything unexpected with
// its full context. Internals never reach the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	resp, unexpected := toResponse(err)
	if unexpected {
		errutil.LogErrorContext(r.Context(), logger, "request failed", err,
			"method", r.Method,
			"path", r.URL.Path)
	}
	writeJSON(w, resp.Status, resp)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net/http"
	"reflect"
	"slices"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Validation messages.
const (
	msgInvalidEmail       = "Enter a valid email address"
	msgPasswordTooShort   = "Must be at least 6 chars long"
	msgFirstNameRequired  = "You first name is required"
	msgLastNameRequired   = "You last name is required"
	msgPasswordsDontMatch = "Passwords do not match"
	msgInvalidValue       = "Invalid value"
)

type registerRequest struct {
	Email     string `json:"email" jsonschema:"format=email"`
	Password  string `json:"password" jsonschema:"minLength=6"`
	FirstName string `json:"firstName" jsonschema:"pattern=\\S"`
	LastName  string `json:"lastName" jsonschema:"pattern=\\S"`
}

type loginRequest struct {
	Email    string `json:"email" jsonschema:"format=email"`
	Password string `json:"password" jsonschema:"minLength=1"`
}

// Login keeps the generic message for a missing password.
func (loginRequest) fieldMessages() map[string]string {
	return map[string]string{"password": msgInvalidValue}
}

type emailRequest struct {
	Email string `json:"email" jsonschema:"format=email"`
}

type resetRequest struct {
	Password        string `json:"password" jsonschema:"minLength=6"`
	ConfirmPassword string `json:"confirmPassword"`
}

type profileRequest struct {
	FirstName *string `json:"firstName,omitempty" jsonschema:"pattern=\\S"`
	LastName  *string `json:"lastName,omitempty" jsonschema:"pattern=\\S"`
}

// defaultMessages is the client message for a failed constraint on a field.
var defaultMessages = map[string]string{
	"email":           msgInvalidEmail,
	"password":        msgPasswordTooShort,
	"confirmPassword": msgPasswordsDontMatch,
	"firstName":       msgFirstNameRequired,
	"lastName":        msgLastNameRequired,
}

// messageOverrider lets a request type replace default field messages.
type messageOverrider interface {
	fieldMessages() map[string]string
}

type requestSchema struct {
	schema   *jschema.Schema
	messages map[string]string
}

// validator checks request bodies against JSON Schemas reflected from the
// request types.
type validator struct {
	schemas map[reflect.Type]requestSchema
}

func newValidator(requests ...any) (*validator, error) {
	v := &validator{schemas: make(map[reflect.Type]requestSchema, len(requests))}
	for _, req := range requests {
		sch, err := compileSchema(req)
		if err != nil {
			return nil, err
		}
		messages := maps.Clone(defaultMessages)
		if o, ok := req.(messageOverrider); ok {
			maps.Copy(messages, o.fieldMessages())
		}
		v.schemas[reflect.TypeOf(req)] = requestSchema{schema: sch, messages: messages}
	}
	return v, nil
}

func compileSchema(req any) (*jschema.Schema, error) {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	name := reflect.TypeOf(req).Elem().Name() + ".json"

	data, err := json.Marshal(r.Reflect(req))
	if err != nil {
		return nil, oops.Code("SCHEMA_BUILD_FAILED").With("schema", name).Wrap(err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, oops.Code("SCHEMA_BUILD_FAILED").With("schema", name).Wrap(err)
	}

	c := jschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(name, doc); err != nil {
		return nil, oops.Code("SCHEMA_BUILD_FAILED").With("schema", name).Wrap(err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, oops.Code("SCHEMA_BUILD_FAILED").With("schema", name).Wrap(err)
	}
	return sch, nil
}

// decode reads, validates, and unmarshals the request body into dst,
// which must be a pointer to a type registered with newValidator.
func (v *validator) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	rs, ok := v.schemas[reflect.TypeOf(dst)]
	if !ok {
		return oops.With("type", reflect.TypeOf(dst).String()).Errorf("no schema registered for request type")
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return invalidRequest(ErrorDetail{Message: "Request body too large"})
		}
		return oops.Code("REQUEST_READ_FAILED").Wrap(err)
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return invalidRequest(ErrorDetail{Message: "Malformed JSON body"})
	}
	if err := rs.schema.Validate(doc); err != nil {
		var verr *jschema.ValidationError
		if !errors.As(err, &verr) {
			return oops.Code("REQUEST_VALIDATE_FAILED").Wrap(err)
		}
		return invalidRequest(fieldErrors(verr, rs.messages)...)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return invalidRequest(ErrorDetail{Message: "Malformed JSON body"})
	}
	return nil
}

func invalidRequest(details ...ErrorDetail) error {
	return oops.Code(CodeRequestInvalid).
		With("fields", details).
		Errorf("request validation failed")
}

// fieldErrors flattens a validation error into one entry per offending
// field, in schema property order.
func fieldErrors(verr *jschema.ValidationError, messages map[string]string) []ErrorDetail {
	var fields []string
	root := false

	var walk func(e *jschema.ValidationError)
	walk = func(e *jschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		if req, ok := e.ErrorKind.(*kind.Required); ok {
			fields = append(fields, req.Missing...)
			return
		}
		if len(e.InstanceLocation) == 0 {
			root = true
			return
		}
		fields = append(fields, e.InstanceLocation[0])
	}
	walk(verr)

	if root {
		return []ErrorDetail{{Message: "Request body must be a JSON object"}}
	}

	slices.SortStableFunc(fields, func(a, b string) int { return fieldOrder(a) - fieldOrder(b) })
	fields = slices.Compact(fields)

	details := make([]ErrorDetail, 0, len(fields))
	for _, f := range fields {
		msg, ok := messages[f]
		if !ok {
			msg = msgInvalidValue
		}
		details = append(details, ErrorDetail{Message: msg, Field: f})
	}
	return details
}

var fieldOrderList = []string{"email", "password", "confirmPassword", "firstName", "lastName"}

func fieldOrder(field string) int {
	if i := slices.Index(fieldOrderList, field); i >= 0 {
		return i
	}
	return len(fieldOrderList)
}

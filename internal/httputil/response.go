// Package httputil holds the JSON envelope shared by the RPC server and its
// client.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

// Envelope statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusEmpty = "empty"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

// ErrorBody is the failure envelope.
type ErrorBody struct {
	Status  string         `json:"status"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteOK writes {status:"ok"} merged with fields.
func WriteOK(w http.ResponseWriter, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["status"] = StatusOK
	WriteJSON(w, http.StatusOK, body)
}

// WriteState writes a success body whose status is the entity state, as
// create_operation, open_ticket and resolve_ticket report it.
func WriteState(w http.ResponseWriter, state string, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["status"] = state
	WriteJSON(w, http.StatusOK, body)
}

// WriteError writes the failure envelope for err. Unclassified errors are
// reported as internal without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.Internal("internal error", err)
	}
	message := se.Message
	if se.Kind == apperrors.KindInternal && message == "" {
		message = "internal error"
	}
	WriteJSON(w, se.HTTPStatus(), ErrorBody{
		Status:  StatusError,
		Code:    se.Code(),
		Message: message,
		Details: se.Details,
	})
}

// DecodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.Validation("invalid JSON body: %v", err)
	}
	if dec.More() {
		return apperrors.Validation("invalid JSON body: trailing data")
	}
	return nil
}

// ErrorFromBody converts a failure envelope back into a typed error.
func ErrorFromBody(status int, body ErrorBody) error {
	if body.Code == "" {
		return apperrors.Internal(fmt.Sprintf("request failed with status %d", status), nil)
	}
	se := &apperrors.ServiceError{Kind: apperrors.ParseCode(body.Code), Message: body.Message}
	for k, v := range body.Details {
		se.WithDetails(k, v)
	}
	return se
}

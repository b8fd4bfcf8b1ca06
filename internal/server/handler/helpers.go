package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/marketescrow/internal/domain"
)

// maxBodyBytes caps request bodies; every accepted payload is a few hundred bytes.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"success":false,"code":"INTERNAL","message":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeSuccess writes {"success":true} merged with fields.
func writeSuccess(w http.ResponseWriter, status int, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, status, body)
}

type errorBody struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	e, ok := domain.AsError(err)
	if !ok {
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(e, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(e, domain.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(e.Kind, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(e.Kind, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(e.Kind, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(e.Kind, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(e.Kind, domain.ErrVerification):
		return http.StatusUnprocessableEntity
	case errors.Is(e.Kind, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err as the error envelope. Causes never reach the
// client; server-side failures are logged with them.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFor(err)
	body := errorBody{Code: "INTERNAL", Message: "internal server error"}
	if e, ok := domain.AsError(err); ok {
		body.Code, body.Message, body.Details = e.Code, e.Message, e.Details
	} else if status == http.StatusNotFound {
		body.Code, body.Message = "NOT_FOUND", "not found"
	}
	if status >= 500 {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", body.Code),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, body)
}

// decodeJSON strictly decodes a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrInvalidInput.With("invalid request body: %s", describeDecodeError(err))
	}
	if dec.More() {
		return domain.ErrInvalidInput.With("invalid request body: trailing data")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.ErrInvalidInput.With("invalid request body: trailing data")
	}
	return nil
}

func describeDecodeError(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return "empty body"
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	case errors.As(err, &maxErr):
		return "body too large"
	}
	return err.Error()
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

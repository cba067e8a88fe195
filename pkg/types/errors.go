package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ──────────────────────────────────────────────────────────────────────────────
// Validation error (issuance input)
// ──────────────────────────────────────────────────────────────────────────────

type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ──────────────────────────────────────────────────────────────────────────────
// Verification taxonomy
// ──────────────────────────────────────────────────────────────────────────────

var (
	ErrMalformedID        = errors.New("malformed certificate id")
	ErrUnknownCertificate = errors.New("unknown certificate")
	ErrRevoked            = errors.New("certificate revoked")
	ErrTamperDetected     = errors.New("certificate tampered")
	ErrVerification       = errors.New("verification could not be completed")
)

// Stages at which a VerificationError can occur.
const (
	StageExtraction = "extraction"
	StageEvidence   = "evidence"
	StageEncoding   = "encoding"
	StageLookup     = "lookup"
)

// VerificationError is an upstream failure (extraction, transport, storage)
// that left the outcome undecided. It is never a tamper signal.
type VerificationError struct {
	Stage string
	Err   error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification %s: %v", e.Stage, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

func (e *VerificationError) Is(target error) bool { return target == ErrVerification }

// ──────────────────────────────────────────────────────────────────────────────
// APIError — structured error returned to callers
// ──────────────────────────────────────────────────────────────────────────────

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	HTTPCode  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteJSON writes the error as JSON to the response writer.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPCode)
	_ = json.NewEncoder(w).Encode(e)
}

// ──────────────────────────────────────────────────────────────────────────────
// Common error constructors
// ──────────────────────────────────────────────────────────────────────────────

func ErrBadRequest(msg string) *APIError {
	return &APIError{Code: "BAD_REQUEST", Message: msg, HTTPCode: http.StatusBadRequest}
}

// ErrValidation keeps the offending field in Details when err is a *ValidationError.
func ErrValidation(err error) *APIError {
	apiErr := &APIError{Code: "VALIDATION_ERROR", Message: err.Error(), HTTPCode: http.StatusUnprocessableEntity}
	var ve *ValidationError
	if errors.As(err, &ve) {
		apiErr.Details = ve
	}
	return apiErr
}

func ErrMalformed(msg string) *APIError {
	return &APIError{Code: "MALFORMED_ID", Message: msg, HTTPCode: http.StatusBadRequest}
}

func ErrUnauthorized(msg string) *APIError {
	return &APIError{Code: "UNAUTHORIZED", Message: msg, HTTPCode: http.StatusUnauthorized}
}

func ErrNotFound(msg string) *APIError {
	return &APIError{Code: "NOT_FOUND", Message: msg, HTTPCode: http.StatusNotFound}
}

func ErrConflict(msg string) *APIError {
	return &APIError{Code: "CONFLICT", Message: msg, HTTPCode: http.StatusConflict}
}

func ErrInternal(msg string) *APIError {
	return &APIError{Code: "INTERNAL_ERROR", Message: msg, Retryable: true, HTTPCode: http.StatusInternalServerError}
}

func ErrRateLimited() *APIError {
	return &APIError{Code: "RATE_LIMITED", Message: "too many requests", Retryable: true, HTTPCode: http.StatusTooManyRequests}
}

func ErrUpstream(service, detail string) *APIError {
	return &APIError{Code: "UPSTREAM_ERROR", Message: fmt.Sprintf("%s failed: %s", service, detail), Retryable: true, HTTPCode: http.StatusBadGateway}
}

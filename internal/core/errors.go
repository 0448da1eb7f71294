package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Errors raised by the session, processing and combine pipeline.
var (
	// ErrValidation indicates a request that failed validation before any I/O.
	ErrValidation = errors.New("validation error")
	// ErrInvalidSessionID indicates an empty or unsafe session identifier.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrDirectoryCreate indicates the session output directory could not be created.
	ErrDirectoryCreate = errors.New("failed to create session directory")
	// ErrFilePersist indicates synthesized audio could not be written to disk.
	ErrFilePersist = errors.New("failed to persist audio file")
	// ErrAudioDecode indicates an audio payload that could not be decoded.
	ErrAudioDecode = errors.New("failed to decode audio")
	// ErrSessionNotFound indicates the session has no audio directory.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoFilesToCombine indicates the session directory holds no audio files.
	ErrNoFilesToCombine = errors.New("no audio files to combine")
)

const redactedSecret = "[REDACTED]"

// ErrorKind classifies a provider failure.
type ErrorKind int

// Provider error kinds.
const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindRateLimit
	KindBadRequest
	KindNotFound
	KindServiceUnavailable
)

// String returns the lower-case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindUnknown:
		return "unknown"
	}

	return "unknown"
}

// HTTPStatus maps the kind to the status code reported to API callers.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindUnknown:
		return http.StatusInternalServerError
	}

	return http.StatusInternalServerError
}

// KindFromStatus maps an upstream HTTP status code to an ErrorKind.
func KindFromStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusBadRequest:
		return KindBadRequest
	case code == http.StatusNotFound:
		return KindNotFound
	case code >= http.StatusInternalServerError:
		return KindServiceUnavailable
	default:
		return KindUnknown
	}
}

// ProviderError is returned by providers for every upstream failure.
type ProviderError struct {
	Err        error
	Provider   string
	Message    string
	Kind       ErrorKind
	StatusCode int
}

// NewProviderError builds a ProviderError of the given kind.
func NewProviderError(provider string, kind ErrorKind, message string, err error) *ProviderError {
	return &ProviderError{
		Err:        err,
		Provider:   provider,
		Message:    message,
		Kind:       kind,
		StatusCode: kind.HTTPStatus(),
	}
}

// NewStatusError builds a ProviderError from an upstream HTTP status.
func NewStatusError(provider string, status int, message string) *ProviderError {
	kind := KindFromStatus(status)

	return &ProviderError{
		Err:        nil,
		Provider:   provider,
		Message:    message,
		Kind:       kind,
		StatusCode: kind.HTTPStatus(),
	}
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error: %s: %v", e.Provider, e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf returns the provider error kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind, true
	}

	return KindUnknown, false
}

// RedactSecret removes every occurrence of secret from message.
func RedactSecret(message, secret string) string {
	if strings.TrimSpace(secret) == "" {
		return message
	}

	return strings.ReplaceAll(message, secret, redactedSecret)
}

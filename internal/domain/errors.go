package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrTokenNotFound   = errors.New("token not found")
	ErrMappingNotFound = errors.New("mapping not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrLinkNotFound    = errors.New("entity link not found")
	ErrEntityNotFound  = errors.New("entity not found")
	ErrLeaseLost       = errors.New("task lease lost")
)

// ConfigError reports missing or invalid configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Reasons carried by AuthError.
const (
	AuthInvalidState          = "invalid_state"
	AuthProviderRejected      = "provider_rejected"
	AuthReauthorizationNeeded = "reauthorization_required"
	AuthNetwork               = "network"
)

type AuthError struct {
	Reason  string
	Service string
	Err     error
}

func (e *AuthError) Error() string {
	msg := "auth " + e.Reason
	if e.Service != "" {
		msg += " (" + e.Service + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// TransportError is a failure to get a usable answer from a remote: network,
// timeout, 5xx or throttling. It is always worth retrying.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: remote status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteRejection is a 4xx or an application-level error returned by the remote.
type RemoteRejection struct {
	Status int
	Code   string
	Body   string
}

func (e *RemoteRejection) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote rejected request: status %d code %s: %s", e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("remote rejected request: status %d: %s", e.Status, e.Body)
}

func (e *RemoteRejection) IsNotFound() bool { return e.Status == 404 }

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// IsRecoverable reports whether an error class should be retried.
func IsRecoverable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason == AuthNetwork
	}
	return false
}

func IsReauthorization(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Reason == AuthReauthorizationNeeded
}

func IsNotFound(err error) bool {
	if errors.Is(err, ErrEntityNotFound) {
		return true
	}
	var rr *RemoteRejection
	return errors.As(err, &rr) && rr.IsNotFound()
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Package warperr holds the error taxonomy shared by the warphttp packages.
//
// Three families exist:
//   - ConfigurationError: a caller supplied an invalid setting. Nothing was mutated.
//   - TransportError: the transport failed to complete a hop.
//   - PolicyViolation: an ownership or state-machine rule was broken.
//
// Each structured error matches its family sentinel through errors.Is, so
// callers can test the family without errors.As.
package warperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrPolicyViolation is matched by every *PolicyViolation.
	ErrPolicyViolation = errors.New("policy violation")
)

// ConfigurationError reports an invalid option, cookie or rule source.
type ConfigurationError struct {
	// Field names the offending setting (e.g. "name", "url", "suffix source").
	Field string
	// Reason is a short human readable explanation.
	Reason string
	// Cause is optional.
	Cause error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError creates a ConfigurationError without a cause.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// TransportError wraps a failure of the underlying transport for one hop.
type TransportError struct {
	// Op is the operation that failed (e.g. "send", "read body").
	Op string
	// URL is the URL of the hop that failed.
	URL string
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
// Format: "op url: cause"
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Cause.Error())
	}
	return fmt.Sprintf("%s %s", e.Op, e.URL)
}

// Unwrap returns the underlying cause, enabling errors.Is/As chaining
// (e.g. context.Canceled after a removal).
func (e *TransportError) Unwrap() error { return e.Cause }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// NewTransportError wraps cause. It returns cause unchanged when cause is
// already a *TransportError.
func NewTransportError(op, url string, cause error) error {
	var te *TransportError
	if errors.As(cause, &te) {
		return cause
	}
	return &TransportError{Op: op, URL: url, Cause: cause}
}

// PolicyViolation reports a broken ownership or sequencing rule.
type PolicyViolation struct {
	Op     string
	Reason error
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Reason)
}

// Unwrap exposes the specific reason sentinel.
func (e *PolicyViolation) Unwrap() error { return e.Reason }

// Is reports whether target is ErrPolicyViolation.
func (e *PolicyViolation) Is(target error) bool { return target == ErrPolicyViolation }

// NewPolicyViolation creates a PolicyViolation for op with the given reason.
func NewPolicyViolation(op string, reason error) *PolicyViolation {
	return &PolicyViolation{Op: op, Reason: reason}
}

package warphttp

import (
	"errors"

	"github.com/warpdl/warphttp/pkg/warperr"
)

// Error families, re-exported so callers need a single import.
type (
	ConfigurationError = warperr.ConfigurationError
	TransportError     = warperr.TransportError
	PolicyViolation    = warperr.PolicyViolation
)

var (
	ErrConfiguration   = warperr.ErrConfiguration
	ErrTransport       = warperr.ErrTransport
	ErrPolicyViolation = warperr.ErrPolicyViolation
)

// NewConfigurationError creates a ConfigurationError without a cause.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return warperr.NewConfigurationError(field, reason)
}

// NewTransportError wraps cause as a TransportError for the hop to url.
func NewTransportError(op, url string, cause error) error {
	return warperr.NewTransportError(op, url, cause)
}

func newPolicyViolation(op string, reason error) error {
	return warperr.NewPolicyViolation(op, reason)
}

var (
	// ErrAlreadyOwned is the reason when an exchange joins a second scheduler.
	ErrAlreadyOwned = errors.New("exchange already registered with a scheduler")
	// ErrNotRegistered is the reason when a scheduler is asked about a stranger.
	ErrNotRegistered = errors.New("exchange not registered with this scheduler")
	// ErrReentrantRun is the reason when Run is called while already running.
	ErrReentrantRun = errors.New("scheduler is already running")
	// ErrSchedulerRunning is the reason when an exchange is executed on its
	// own while its scheduler drives it.
	ErrSchedulerRunning = errors.New("exchange is being driven by its scheduler")
	// ErrSchedulerClosed is the reason for any use of a closed scheduler.
	ErrSchedulerClosed = errors.New("scheduler is closed")
	// ErrHandleBusy is returned when a handle is added to a second Multi.
	ErrHandleBusy = errors.New("handle already registered with a multi")

	// ErrTooManyRedirects is returned when a chain exceeds the configured hops.
	ErrTooManyRedirects = errors.New("redirect loop detected")
	// ErrCrossProtocolRedirect is returned when a redirect leaves HTTP/HTTPS.
	ErrCrossProtocolRedirect = errors.New("cross-protocol redirect not supported")

	// ErrCallPerform tells the caller of Multi.Perform to call it again
	// right away because more work became ready while it ran.
	ErrCallPerform = errors.New("call perform again")
)

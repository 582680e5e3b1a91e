package channel

import (
	"context"
	"errors"
	"fmt"
)

const (
	ErrorStartFailed    = "start_failed"
	ErrorLivenessFailed = "liveness_failed"
	ErrorInterrupted    = "interrupted"
	ErrorDelivery       = "delivery_failed"
)

// ErrInterrupted is reported by a liveness check when the service was asked to exit.
var ErrInterrupted = errors.New("interrupted")

// Error represents a categorized transport failure.
type Error struct {
	Category string
	Service  string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Service, e.Category)
	}

	return fmt.Sprintf("%s: %s: %v", e.Service, e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// NewStartError wraps a failure raised while a service was starting.
func NewStartError(service string, err error) error {
	return &Error{Category: ErrorStartFailed, Service: service, Err: err}
}

// NewLivenessError wraps a failure that makes a running service unrecoverable.
func NewLivenessError(service string, err error) error {
	return &Error{Category: ErrorLivenessFailed, Service: service, Err: err}
}

// NewDeliveryError wraps a failure to hand a message to a service.
func NewDeliveryError(service string, err error) error {
	return &Error{Category: ErrorDelivery, Service: service, Err: err}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}
	if IsInterruption(err) {
		return ErrorInterrupted
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return ErrorLivenessFailed
}

// IsInterruption reports whether err means the caller asked the service to exit.
func IsInterruption(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

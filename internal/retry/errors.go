package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrorCategory decides whether a failed call is worth repeating.
type ErrorCategory int

const (
	// Recoverable errors are retried with backoff: 5xx, timeouts, dropped
	// connections.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors fail immediately: 4xx, validation, bad payloads.
	Irrecoverable
)

func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ClassifiedError wraps a remote failure with its retry category.
type ClassifiedError struct {
	Category   ErrorCategory
	StatusCode int // 0 for non-HTTP errors
	Body       string
	Underlying error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// ClassifyHTTPError maps a status code to a category. Every 4xx is terminal,
// including 408 and 429; 5xx and anything unexpected is retried.
func ClassifyHTTPError(statusCode int, body string, err error) *ClassifiedError {
	category := Recoverable
	if statusCode >= 400 && statusCode < 500 {
		category = Irrecoverable
	}
	if err == nil {
		err = fmt.Errorf("HTTP %d", statusCode)
	}
	return &ClassifiedError{
		Category:   category,
		StatusCode: statusCode,
		Body:       body,
		Underlying: err,
	}
}

// NewHTTPError builds a classified error for a failed call named operation.
func NewHTTPError(statusCode int, body, operation string) *ClassifiedError {
	return ClassifyHTTPError(statusCode, body, fmt.Errorf("%s failed: HTTP %d", operation, statusCode))
}

// NewNetworkError classifies a transport failure as recoverable.
func NewNetworkError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}

// IsIrrecoverable reports whether err was explicitly classified terminal.
func IsIrrecoverable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category == Irrecoverable
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}

// IsRetryable is the default retry predicate. Classified errors follow their
// category; otherwise only network-level failures are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category == Recoverable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne)
}

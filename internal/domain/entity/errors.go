package entity

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors for the sync core. Duplicate claims and single-flight
// contention are deliberately absent: they are counters, not errors.
var (
	// ErrNetworkTimeout indicates a network operation exceeded its ceiling.
	ErrNetworkTimeout = errors.New("network timeout")

	// ErrNetworkFailure indicates a non-timeout transport or HTTP error.
	ErrNetworkFailure = errors.New("network failure")

	// ErrParseFailure indicates a malformed or incomplete article payload.
	ErrParseFailure = errors.New("parse failure")

	// ErrStorageFailure indicates the article store rejected a read or write.
	ErrStorageFailure = errors.New("storage failure")

	// ErrNotFound indicates a requested entity was not found.
	ErrNotFound = errors.New("entity not found")
)

// ClassifyNetworkError maps a raw transport error to the domain taxonomy so
// callers can distinguish a timed-out operation from a failed one.
func ClassifyNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNetworkTimeout) || errors.Is(err, ErrNetworkFailure) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNetworkTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrNetworkTimeout
	}
	return ErrNetworkFailure
}

// IsTimeout reports whether err represents a network timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrNetworkTimeout) || errors.Is(err, context.DeadlineExceeded)
}

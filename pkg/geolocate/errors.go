package geolocate

import (
	"context"
	"errors"
)

// Sentinel errors returned by position providers. The engine maps them to
// the error strings it exposes to callers.
var (
	// ErrUnsupported means no position source exists on this device. It is
	// terminal for an activation; there is no fallback.
	ErrUnsupported = errors.New("geolocation is not supported on this device")

	// ErrPermissionDenied means the position source exists but access to it
	// was refused.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrTimeout means the position request did not complete within its
	// deadline.
	ErrTimeout = errors.New("timed out acquiring location")

	// ErrUnavailable means the position source failed to produce a fix.
	ErrUnavailable = errors.New("location unavailable")
)

// reasonString converts a provider failure into the non-fatal error string
// surfaced through the snapshot.
func reasonString(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrPermissionDenied.Error()
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.Error()
	default:
		return ErrUnavailable.Error()
	}
}

package geolocate

import (
	"context"
	"time"
)

// PositionOptions configures a single-shot position request.
type PositionOptions struct {
	// HighAccuracy asks the source for its most precise fix at the cost of
	// time and power. The engine never sets it; the bounded-accuracy mode is
	// what keeps sensor reads fast.
	HighAccuracy bool

	// Timeout bounds the whole request. The engine also enforces it through
	// the request context.
	Timeout time.Duration

	// MaximumAge lets a source return a fix it already holds if the fix is no
	// older than this. Sources without an internal cache ignore it.
	MaximumAge time.Duration
}

// Provider is a single-shot position source.
type Provider interface {
	GetPosition(ctx context.Context, opts PositionOptions) (Coordinates, error)
	Close() error
}

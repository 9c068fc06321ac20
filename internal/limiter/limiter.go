// Package limiter throttles expensive per-user operations such as full session scans.
package limiter

import (
	"context"
	"time"
)

// Throttle admits at most one operation per key within a window.
type Throttle interface {
	// Allow reports whether the operation may run now. When it may not, the
	// duration is how long until the key is admitted again.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// Unlimited admits everything.
type Unlimited struct{}

// Allow implements Throttle.
func (Unlimited) Allow(context.Context, string) (bool, time.Duration, error) { return true, 0, nil }

// Package clock abstracts wall time and sleeping so that waits in the
// fetch layer can be tested without real delays.
package clock

import (
	"context"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper combines both capabilities.
type ClockSleeper interface {
	Clock
	Sleeper
}

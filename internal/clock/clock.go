// Package clock provides the timer abstraction used by the reader engine.
//
// Every debounce, settle delay and hard timeout in the engine goes through a
// Clock. Production uses the clockwork wall clock; any clockwork clock
// satisfies Clock, including clockwork's FakeClock. Engine tests use Fake,
// whose Advance runs due callbacks synchronously, so a test observes every
// consequence of a step in time before Advance returns.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a scheduled callback that can be cancelled or re-armed.
type Timer = clockwork.Timer

// Clock schedules callbacks and reports the current time. It is the subset
// of clockwork.Clock the engine uses.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// New returns the wall clock.
func New() Clock {
	return clockwork.NewRealClock()
}

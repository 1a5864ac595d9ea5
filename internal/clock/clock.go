// Package clock provides the single time source injected into the engine.
// Expiry of quotations and reservations is always judged against a Clock,
// never against ambient wall time, so every component agrees on "now".
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System returns a Clock backed by time.Now, truncated to microseconds to
// match Postgres timestamptz precision.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC().Truncate(time.Microsecond)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC().Truncate(time.Microsecond)
}

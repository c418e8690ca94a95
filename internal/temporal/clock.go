package temporal

import "time"

// Clock is the only source of "now" for the planning engine. All scheduling
// math is done in absolute epoch milliseconds, so the interface exposes both
// the wall-clock time and its millisecond form.
type Clock interface {
	Now() time.Time
	NowMillis() int64
}

// SystemClock reads the system wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// FixedClock reports a fixed instant until advanced. Intended for tests and
// for deterministic replay of scheduling decisions.
type FixedClock struct {
	Instant time.Time
}

// NewFixedClock returns a clock pinned at the given instant.
func NewFixedClock(at time.Time) *FixedClock {
	return &FixedClock{Instant: at}
}

func (c *FixedClock) Now() time.Time {
	return c.Instant
}

func (c *FixedClock) NowMillis() int64 {
	return c.Instant.UnixMilli()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.Instant = c.Instant.Add(d)
}

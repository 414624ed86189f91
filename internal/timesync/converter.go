package timesync

import (
	"time"
)

// Clock measures monotonic offsets from the start of the process group.
type Clock struct {
	start time.Time
}

// NewClock creates a clock anchored at the current instant.
// The anchor keeps Go's monotonic reading, so offsets are immune to
// wall-clock adjustments.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// NewClockAt creates a clock anchored at a fixed instant.
func NewClockAt(start time.Time) *Clock {
	return &Clock{start: start}
}

// Now returns nanoseconds elapsed since the clock's anchor.
func (c *Clock) Now() int64 {
	return int64(time.Since(c.start))
}

// ToWallClock converts an offset (nanoseconds since the anchor) to wall-clock time.
// This is a pure function of the anchor captured at construction.
func (c *Clock) ToWallClock(offsetNanos int64) time.Time {
	return c.start.Add(time.Duration(offsetNanos))
}

// ElapsedMicros returns the microseconds between startNanos and nowNanos,
// clamped at zero when the start lies in the future (clock anchor skew between
// producer and reader).
func (c *Clock) ElapsedMicros(startNanos, nowNanos int64) int64 {
	if nowNanos <= startNanos {
		return 0
	}
	return (nowNanos - startNanos) / int64(time.Microsecond)
}

// Start returns the clock's anchor.
func (c *Clock) Start() time.Time {
	return c.start
}

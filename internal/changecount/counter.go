package changecount

import (
	"fmt"
	"sync/atomic"
)

// Counter is a change counter paired with one record.
// The zero value is ready to use and reports no write in progress.
type Counter struct {
	v atomic.Uint32
	_ [60]byte // Keeps neighbouring counters on separate cache lines.
}

// BeginWrite marks the paired record as being written.
// Panics if a write is already in progress, which means the single-owner
// discipline was broken by the caller.
func (c *Counter) BeginWrite() {
	if v := c.v.Add(1); v&1 == 0 {
		panic(fmt.Sprintf("changecount: BeginWrite during write in progress (counter %d)", v))
	}
}

// EndWrite publishes the record written since BeginWrite.
func (c *Counter) EndWrite() {
	if v := c.v.Add(1); v&1 == 1 {
		panic(fmt.Sprintf("changecount: EndWrite without BeginWrite (counter %d)", v))
	}
}

// Load returns the current counter value.
//
//go:nosplit
func (c *Counter) Load() uint32 {
	return c.v.Load()
}

// InProgress reports whether v was sampled while a write was in progress.
func InProgress(v uint32) bool {
	return v&1 == 1
}

// Stable reports whether a copy taken between two samples is consistent:
// no write was in progress at the first sample and none completed since.
func Stable(before, after uint32) bool {
	return before == after && before&1 == 0
}

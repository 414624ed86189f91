// Package changecount implements the odd/even change counter that guards
// single-writer, multi-reader records without locks.
//
// Protocol:
//
//	writer                         reader
//	──────                         ──────
//	BeginWrite()   (value odd)     before := Load()
//	store record words             load record words
//	EndWrite()     (value even)    after := Load()
//	                               Stable(before, after) ? use copy : retry
//
// A reader that observes an odd value, or a value that moved while it was
// copying, discards its copy. Every counter and record access goes through
// sync/atomic, whose operations are sequentially consistent in the Go memory
// model, so the increments act as the write and read barriers on weakly
// ordered hardware as well.
//
// Exactly one goroutine may write a given record at a time. The counter
// detects nested writes from that owner and panics, but it does not arbitrate
// between two writers.
package changecount

package opmeta

import (
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/mrzor/currentop/internal/changecount"
	"github.com/mrzor/currentop/internal/metrics"
)

// CounterSource hands out the change counter paired with each worker's slot.
// The worker status table implements it.
type CounterSource interface {
	ChangeCounter(worker int) *changecount.Counter
}

// Registrar publishes operation metadata at the start of each unit of work.
type Registrar struct {
	enabled  bool
	store    *Store
	counters CounterSource
	metrics  *metrics.Collector
	logger   *slog.Logger

	warnedMalformed atomic.Bool
}

// NewRegistrar creates a registrar. When enabled is false every Register call
// is a no-op and store may be nil.
func NewRegistrar(enabled bool, store *Store, counters CounterSource, collector *metrics.Collector, logger *slog.Logger) *Registrar {
	if enabled && (store == nil || counters == nil) {
		panic("opmeta: enabled registrar needs a store and a counter source")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registrar{
		enabled:  enabled,
		store:    store,
		counters: counters,
		metrics:  collector,
		logger:   logger,
	}
}

// Enabled reports whether Register publishes anything.
func (r *Registrar) Enabled() bool {
	return r != nil && r.enabled
}

// Register publishes command as worker's current operation and returns the
// operation's sequence number in the slot, or 0 when the registrar is disabled.
//
// worker must be the caller's own slot index; an index outside the store is a
// programming error and panics. Problems with the command itself never
// surface: a malformed session identifier is stored empty, and a command
// larger than CommandCapacity is stored truncated with its true length.
func (r *Registrar) Register(worker int, command []byte) uint32 {
	if !r.Enabled() {
		return 0
	}
	slot := r.store.SlotAt(worker)
	counter := r.counters.ChangeCounter(worker)

	var md OperationMetadata
	md.Sequence = slot.Sequence() + 1
	if md.Sequence == 0 {
		md.Sequence = 1
	}
	malformed := sessionIDFromCommand(&md.SessionID, command)

	length := uint64(len(command))
	if length > math.MaxUint32 {
		length = math.MaxUint32
	}
	md.CommandLength = uint32(length)
	copy(md.Command[:], command)

	counter.BeginWrite()
	slot.Publish(&md)
	counter.EndWrite()

	r.metrics.Registered(length > CommandCapacity, malformed)
	if malformed && r.warnedMalformed.CompareAndSwap(false, true) {
		r.logger.Debug("session identifier unusable, storing operation without session",
			"worker", worker)
	}
	return md.Sequence
}

package workerstatus

import (
	"sync/atomic"

	"github.com/mrzor/currentop/internal/changecount"
	"github.com/mrzor/currentop/internal/timesync"
)

// State is a worker's activity state.
type State uint32

// Worker states.
const (
	Idle State = iota
	Active
)

// String returns the state name used in reports.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Status is one worker's status as seen by a reader.
type Status struct {
	PID        int32
	State      State
	StartNanos int64 // Activity start, nanoseconds on the table's clock.
	Activity   string
	Client     string
	AppName    string
}

// Live reports whether the worker owns its slot and is running an operation.
// Metadata for a worker that is not live is stale.
func (s Status) Live() bool {
	return s.State == Active && s.PID > 0
}

// Source is the read side of a host status table keyed by worker index.
type Source interface {
	// Capacity returns the number of worker indexes, fixed at startup.
	Capacity() int
	// Status loads one worker's fields. Callers wanting a consistent view
	// bracket the call with the worker's change counter.
	Status(worker int) Status
	// ChangeCounter returns the counter paired with worker's status entry
	// and metadata slot.
	ChangeCounter(worker int) *changecount.Counter
	// Clock returns the clock StartNanos is measured on.
	Clock() *timesync.Clock
}

type entry struct {
	counter  changecount.Counter
	pid      atomic.Int32
	state    atomic.Uint32
	start    atomic.Int64
	activity atomic.Pointer[string]
	client   atomic.Pointer[string]
	appName  atomic.Pointer[string]
}

// Table is a fixed-size status table. Each entry has exactly one writer, the
// worker that owns the index; readers are unrestricted.
type Table struct {
	entries []entry
	clock   *timesync.Clock
}

// NewTable allocates a table for capacity workers. A nil clock is replaced by
// a clock anchored now.
func NewTable(capacity int, clock *timesync.Clock) *Table {
	if capacity <= 0 {
		panic("workerstatus: capacity must be positive")
	}
	if clock == nil {
		clock = timesync.NewClock()
	}
	return &Table{
		entries: make([]entry, capacity),
		clock:   clock,
	}
}

// Capacity implements Source.
func (t *Table) Capacity() int {
	return len(t.entries)
}

// Clock implements Source.
func (t *Table) Clock() *timesync.Clock {
	return t.clock
}

// ChangeCounter implements Source.
func (t *Table) ChangeCounter(worker int) *changecount.Counter {
	return &t.entries[worker].counter
}

// Status implements Source.
func (t *Table) Status(worker int) Status {
	e := &t.entries[worker]
	return Status{
		PID:        e.pid.Load(),
		State:      State(e.state.Load()),
		StartNanos: e.start.Load(),
		Activity:   loadString(&e.activity),
		Client:     loadString(&e.client),
		AppName:    loadString(&e.appName),
	}
}

// Attach assigns worker to a process. The worker starts idle.
func (t *Table) Attach(worker int, pid int32, client, appName string) {
	e := &t.entries[worker]
	e.counter.BeginWrite()
	e.pid.Store(pid)
	e.state.Store(uint32(Idle))
	e.start.Store(0)
	e.activity.Store(nil)
	e.client.Store(&client)
	e.appName.Store(&appName)
	e.counter.EndWrite()
}

// Begin marks worker active with the given raw activity text.
func (t *Table) Begin(worker int, activity string) {
	e := &t.entries[worker]
	e.counter.BeginWrite()
	e.start.Store(t.clock.Now())
	e.activity.Store(&activity)
	e.state.Store(uint32(Active))
	e.counter.EndWrite()
}

// Finish marks worker idle. The last activity text is retained, as host
// status tables do, but readers must not surface it.
func (t *Table) Finish(worker int) {
	e := &t.entries[worker]
	e.counter.BeginWrite()
	e.state.Store(uint32(Idle))
	e.counter.EndWrite()
}

// Detach releases worker from its process.
func (t *Table) Detach(worker int) {
	e := &t.entries[worker]
	e.counter.BeginWrite()
	e.pid.Store(0)
	e.state.Store(uint32(Idle))
	e.counter.EndWrite()
}

func loadString(p *atomic.Pointer[string]) string {
	if s := p.Load(); s != nil {
		return *s
	}
	return ""
}

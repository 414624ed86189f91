package opmeta

import (
	"bytes"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mrzor/currentop/internal/logging"
	"github.com/mrzor/currentop/internal/metrics"
	"github.com/mrzor/currentop/internal/workerstatus"
)

type registrarFixture struct {
	store     *Store
	table     *workerstatus.Table
	registry  *prometheus.Registry
	registrar *Registrar
	logs      *bytes.Buffer
}

func newRegistrarFixture(t *testing.T, capacity int) *registrarFixture {
	t.Helper()
	store, err := Allocate(capacity)
	require.NoError(t, err)

	f := &registrarFixture{
		store:    store,
		table:    workerstatus.NewTable(capacity, nil),
		registry: prometheus.NewRegistry(),
		logs:     &bytes.Buffer{},
	}
	f.registrar = NewRegistrar(true, store, f.table, metrics.New(f.registry),
		logging.NewWithWriter(f.logs, slog.LevelDebug))
	return f
}

func (f *registrarFixture) copyOf(worker int) OperationMetadata {
	var md OperationMetadata
	f.store.SlotAt(worker).CopyTo(&md)
	return md
}

func TestRegistrar_Disabled(t *testing.T) {
	r := NewRegistrar(false, nil, nil, nil, nil)

	assert.False(t, r.Enabled())
	assert.Zero(t, r.Register(5, []byte{1, 2, 3}))

	var nilRegistrar *Registrar
	assert.False(t, nilRegistrar.Enabled())
	assert.NotPanics(t, func() { nilRegistrar.Register(0, nil) })
}

func TestNewRegistrar_EnabledNeedsStore(t *testing.T) {
	table := workerstatus.NewTable(1, nil)

	assert.Panics(t, func() { NewRegistrar(true, nil, table, nil, nil) })
}

func TestRegistrar_PublishesCommandAndSession(t *testing.T) {
	f := newRegistrarFixture(t, 4)
	command := marshal(t, bson.D{
		{Key: "find", Value: "c"},
		{Key: "lsid", Value: SessionBinary(uuid.MustParse(testSessionID))},
	})

	f.registrar.Register(1, command)

	md := f.copyOf(1)
	assert.Equal(t, uint32(len(command)), md.CommandLength)
	assert.Equal(t, uint32(1), md.Sequence)
	assert.Equal(t, command, md.Command[:len(command)])
	assert.Equal(t, testSessionID, DecodeSessionID(&md))
	assert.False(t, IsTruncated(&md))
	assert.Equal(t, uint32(2), f.table.ChangeCounter(1).Load(), "one complete write section")

	assert.Equal(t, OperationMetadata{}, f.copyOf(0), "other slots untouched")

	expected := `
# HELP currentop_registrations_total Operation metadata records published by workers.
# TYPE currentop_registrations_total counter
currentop_registrations_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected),
		"currentop_registrations_total"))
}

func TestRegistrar_OversizedCommandIsTruncated(t *testing.T) {
	f := newRegistrarFixture(t, 2)
	command := make([]byte, 2000)
	for i := range command {
		command[i] = byte(i % 251)
	}

	f.registrar.Register(0, command)

	md := f.copyOf(0)
	assert.Equal(t, uint32(2000), md.CommandLength)
	assert.Equal(t, command[:CommandCapacity], md.Command[:])
	assert.True(t, IsTruncated(&md))
	assert.Equal(t, "", DecodeSessionID(&md))

	expected := `
# HELP currentop_truncated_commands_total Published commands larger than the slot command buffer.
# TYPE currentop_truncated_commands_total counter
currentop_truncated_commands_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected),
		"currentop_truncated_commands_total"))
}

func TestRegistrar_ShorterCommandReplacesLonger(t *testing.T) {
	f := newRegistrarFixture(t, 1)
	long := marshal(t, bson.D{{Key: "insert", Value: strings.Repeat("a", 300)}})
	short := marshal(t, bson.D{{Key: "ping", Value: int32(1)}})

	assert.Equal(t, uint32(1), f.registrar.Register(0, long))
	assert.Equal(t, uint32(2), f.registrar.Register(0, short))

	md := f.copyOf(0)
	cmd := DecodeCommand(&md)
	assert.Equal(t, uint32(2), md.Sequence)
	assert.Equal(t, "ping", cmd.Name)
	assert.False(t, cmd.Truncated)
	assert.Equal(t, bson.Raw(short), cmd.Raw)
}

func TestRegistrar_SessionClearedBetweenOperations(t *testing.T) {
	f := newRegistrarFixture(t, 1)

	f.registrar.Register(0, marshal(t, bson.D{
		{Key: "find", Value: "c"},
		{Key: "lsid", Value: SessionBinary(uuid.New())},
	}))
	f.registrar.Register(0, marshal(t, bson.D{{Key: "ping", Value: int32(1)}}))

	md := f.copyOf(0)
	assert.Equal(t, "", DecodeSessionID(&md))
}

func TestRegistrar_SequenceSkipsZeroOnWrap(t *testing.T) {
	f := newRegistrarFixture(t, 1)
	f.store.SlotAt(0).Publish(&OperationMetadata{Sequence: math.MaxUint32})

	f.registrar.Register(0, marshal(t, bson.D{{Key: "ping", Value: int32(1)}}))

	assert.Equal(t, uint32(1), f.copyOf(0).Sequence)
}

func TestRegistrar_MalformedSessionLoggedOnce(t *testing.T) {
	f := newRegistrarFixture(t, 2)
	bad := marshal(t, bson.D{{Key: "find", Value: "c"}, {Key: "lsid", Value: "nope"}})

	f.registrar.Register(0, bad)
	f.registrar.Register(1, bad)

	md := f.copyOf(0)
	assert.Equal(t, "", DecodeSessionID(&md))
	assert.Equal(t, "find", DecodeCommand(&md).Name, "the command is still published")
	assert.Equal(t, 1, strings.Count(f.logs.String(), "session identifier unusable"))

	expected := `
# HELP currentop_malformed_session_ids_total Commands whose session identifier could not be encoded and was stored empty.
# TYPE currentop_malformed_session_ids_total counter
currentop_malformed_session_ids_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected),
		"currentop_malformed_session_ids_total"))
}

func TestRegistrar_WorkerOutOfRangePanics(t *testing.T) {
	f := newRegistrarFixture(t, 2)

	assert.Panics(t, func() { f.registrar.Register(2, nil) })
}

func TestSlot_PublishDoesNotAllocate(t *testing.T) {
	var (
		slot Slot
		md   OperationMetadata
	)
	md.CommandLength = 10
	store, err := Allocate(1)
	require.NoError(t, err)
	table := workerstatus.NewTable(1, nil)
	counter := table.ChangeCounter(0)

	allocs := testing.AllocsPerRun(100, func() {
		counter.BeginWrite()
		store.SlotAt(0).Publish(&md)
		counter.EndWrite()
		slot.CopyTo(&md)
	})
	assert.Zero(t, allocs)
}

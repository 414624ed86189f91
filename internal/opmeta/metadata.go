package opmeta

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Buffer capacities of one slot.
const (
	CommandCapacity = 1024
	SessionCapacity = 128

	commandWords = CommandCapacity / 8
	sessionWords = SessionCapacity / 8
	slotWords    = 1 + commandWords + sessionWords
)

// OperationMetadata is the private, plain-memory form of a slot.
type OperationMetadata struct {
	// CommandLength is the length of the original command, which may exceed
	// CommandCapacity when Command holds a truncated prefix.
	CommandLength uint32
	// Sequence numbers the operations published into this slot, starting at 1.
	Sequence uint32
	Command  [CommandCapacity]byte
	// SessionID holds the session identifier text, NUL padded; empty when the
	// operation carried none.
	SessionID [SessionCapacity]byte
}

// Slot is the shared form of one worker's metadata.
// All access is word-wise atomic so a racing reader never trips the memory
// model; consistency of a whole record comes from the change counter.
type Slot struct {
	words [slotWords]atomic.Uint64
	_     [56]byte // Rounds the slot up to whole cache lines.
}

// Publish stores md into the slot. The caller must own the slot and hold its
// change counter in the write state.
func (s *Slot) Publish(md *OperationMetadata) {
	s.words[0].Store(uint64(md.CommandLength) | uint64(md.Sequence)<<32)
	for i := 0; i < commandWords; i++ {
		s.words[1+i].Store(binary.LittleEndian.Uint64(md.Command[i*8:]))
	}
	for i := 0; i < sessionWords; i++ {
		s.words[1+commandWords+i].Store(binary.LittleEndian.Uint64(md.SessionID[i*8:]))
	}
}

// CopyTo loads the slot into md. The copy is only meaningful if the change
// counter was stable around the call.
func (s *Slot) CopyTo(md *OperationMetadata) {
	head := s.words[0].Load()
	md.CommandLength = uint32(head)
	md.Sequence = uint32(head >> 32)
	for i := 0; i < commandWords; i++ {
		binary.LittleEndian.PutUint64(md.Command[i*8:], s.words[1+i].Load())
	}
	for i := 0; i < sessionWords; i++ {
		binary.LittleEndian.PutUint64(md.SessionID[i*8:], s.words[1+commandWords+i].Load())
	}
}

// Sequence returns the sequence of the last published record.
// Only the owning writer may rely on it without a change-counter check.
func (s *Slot) Sequence() uint32 {
	return uint32(s.words[0].Load() >> 32)
}

// Store is the fixed array of slots for a process group.
type Store struct {
	slots []Slot
}

// Allocate reserves capacity zeroed slots. It must run before any worker
// accepts work; the store cannot be resized afterwards.
func Allocate(capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("slot store capacity must be positive, got %d", capacity)
	}
	return &Store{slots: make([]Slot, capacity)}, nil
}

// Capacity returns the number of slots.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// SlotAt returns worker index's slot.
// An index outside [0, Capacity()) is a programming error and panics.
func (s *Store) SlotAt(index int) *Slot {
	if index < 0 || index >= len(s.slots) {
		panic(fmt.Sprintf("opmeta: slot index %d out of range [0,%d)", index, len(s.slots)))
	}
	return &s.slots[index]
}

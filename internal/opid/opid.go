// Package opid encodes worker slot indexes into externally visible operation
// handles and decodes them back without scanning.
//
// A handle is (worker+1)<<32 | sequence. The +1 keeps every valid handle
// positive and non-zero; the sequence is the slot's per-operation counter, so
// a handle taken before the slot was reused no longer matches it.
package opid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformed reports a handle that no Encode call could have produced.
	ErrMalformed = errors.New("malformed operation id")
	// ErrOutOfRange reports a well-formed handle naming a worker beyond capacity.
	ErrOutOfRange = errors.New("operation id out of range")
)

// maxWorker keeps (worker+1)<<32 within a positive int64.
const maxWorker = 1<<31 - 2

// Handle is an operation id.
type Handle int64

// Encode builds the handle for worker's operation number seq.
// It panics on a negative or oversized worker index.
func Encode(worker int, seq uint32) Handle {
	if worker < 0 || worker > maxWorker {
		panic(fmt.Sprintf("opid: worker index %d out of encodable range", worker))
	}
	return Handle(int64(worker+1)<<32 | int64(seq))
}

// Decode splits h into its worker index and sequence, checking the index
// against capacity.
func (h Handle) Decode(capacity int) (worker int, seq uint32, err error) {
	if h <= 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrMalformed, int64(h))
	}
	high := int64(h) >> 32
	seq = uint32(h)
	if high == 0 || seq == 0 {
		return 0, 0, fmt.Errorf("%w: %d", ErrMalformed, int64(h))
	}
	worker = int(high - 1)
	if worker >= capacity {
		return 0, 0, fmt.Errorf("%w: worker %d, capacity %d", ErrOutOfRange, worker, capacity)
	}
	return worker, seq, nil
}

// Parse decodes the decimal text form of a handle.
func Parse(text string, capacity int) (Handle, int, uint32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrMalformed, text)
	}
	h := Handle(v)
	worker, seq, err := h.Decode(capacity)
	if err != nil {
		return 0, 0, 0, err
	}
	return h, worker, seq, nil
}

// String returns the decimal form accepted by Parse.
func (h Handle) String() string {
	return strconv.FormatInt(int64(h), 10)
}

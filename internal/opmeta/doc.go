// Package opmeta stores per-worker operation metadata in a fixed shared slot
// array and implements the publication (write) path.
//
// Layout:
//
//	Store ── Slot[0] Slot[1] ... Slot[capacity-1]
//	          │
//	          └─ word 0        CommandLength | Sequence<<32
//	             words 1..128  Command   (1024 bytes, truncated prefix)
//	             words 129..   SessionID (128 bytes, NUL padded text)
//
// Slot i belongs to worker i. Only that worker writes it, through
// Registrar.Register, inside the worker's change-counter write section.
// Readers copy a slot into a private OperationMetadata with Slot.CopyTo and
// validate the copy against the same counter (see package snapshot).
//
// Commands are BSON documents. Their leading int32 declares the full document
// length, so a truncated prefix still says how long the original was; the
// separately stored CommandLength carries the same fact independently of the
// buffer content. DecodeCommand turns a stored prefix back into a valid
// document made of the complete leading elements.
//
// Slots are never freed. A slot is overwritten by its worker's next operation
// and is meaningful only while the worker status table reports it active.
package opmeta

// Package workerstatus models the host's per-worker status table: process id,
// active/idle state, activity start time, raw activity text and the change
// counter that the operation metadata slots share.
//
// The status table is the ground truth for liveness. Metadata readers consult
// it before trusting a slot and never write to it. Table is the in-process
// implementation used by the workload simulator and tests; any host table can
// be plugged in through Source.
package workerstatus

// Package workload simulates a host process group: a fixed pool of workers
// that attach to the status table, then repeatedly publish a BSON command,
// mark themselves active, run for a while and go idle again.
//
// Each worker follows the host ordering the snapshot reader relies on:
// metadata is registered before the status entry turns active.
package workload

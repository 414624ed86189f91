// Package snapshot implements the introspection read path: a lock-free sweep
// over every worker that copies each live slot under its change counter and
// joins it with the worker's status.
//
// A worker contributes a record only while its status is live (active with a
// positive pid). Metadata in any other slot is stale and never surfaces. A
// slot that stays contended for more than the retry cap is reported with
// Unavailable set instead of stalling the sweep.
package snapshot

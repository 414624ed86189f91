// Package output turns snapshots into output formats.
//
// Formatters implement SnapshotHandler and are driven by the watch stream:
//   - JSONFormatter writes one JSON report per snapshot
//   - OTELFormatter keeps one span per observed operation, started when the
//     operation first appears and ended when it is gone from a snapshot
//
// Formatters do not read slots or evaluate liveness; they receive finished
// records from package snapshot. Expression evaluation is delegated to
// package attributes.
package output

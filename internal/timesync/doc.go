// Package timesync provides the process-group clock used by the worker status
// table and the snapshot reader.
//
// Activity start times are stored as int64 nanoseconds since the process group
// started so that they fit in a single atomic word. This package converts those
// offsets back to wall-clock time and to elapsed running time for reports.
package timesync

package output

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mrzor/currentop/internal/snapshot"
)

// SnapshotHandler is the interface for consuming snapshots.
type SnapshotHandler interface {
	HandleSnapshot(ctx context.Context, taken time.Time, ops []snapshot.Operation) error
}

// Report is the JSON form of one snapshot.
type Report struct {
	TakenAt time.Time `json:"taken_at"`
	InProg  []Record  `json:"inprog"`
}

// Record is the JSON form of one operation.
type Record struct {
	OpID             int64           `json:"opid,omitempty"`
	Worker           int             `json:"worker"`
	PID              int32           `json:"pid"`
	Active           bool            `json:"active"`
	StartedAt        time.Time       `json:"started_at"`
	MicrosecsRunning int64           `json:"microsecs_running"`
	SecsRunning      int64           `json:"secs_running"`
	Activity         string          `json:"activity,omitempty"`
	Client           string          `json:"client,omitempty"`
	AppName          string          `json:"app_name,omitempty"`
	SessionID        string          `json:"lsid,omitempty"`
	Command          json.RawMessage `json:"command,omitempty"`
	CommandName      string          `json:"command_name,omitempty"`
	CommandLength    uint32          `json:"command_length,omitempty"`
	Truncated        bool            `json:"truncated,omitempty"`
	Unavailable      bool            `json:"unavailable,omitempty"`
}

// NewReport builds the report for one snapshot.
func NewReport(taken time.Time, ops []snapshot.Operation) Report {
	records := make([]Record, len(ops))
	for i := range ops {
		records[i] = NewRecord(&ops[i])
	}
	return Report{TakenAt: taken, InProg: records}
}

// NewRecord converts op. The command is rendered as relaxed extended JSON;
// a truncated command shows only its complete leading fields.
func NewRecord(op *snapshot.Operation) Record {
	rec := Record{
		OpID:             int64(op.OpID),
		Worker:           op.Worker,
		PID:              op.PID,
		Active:           op.Active,
		StartedAt:        op.StartedAt,
		MicrosecsRunning: op.MicrosecsRunning,
		SecsRunning:      op.MicrosecsRunning / int64(time.Second/time.Microsecond),
		Activity:         op.Activity,
		Client:           op.Client,
		AppName:          op.AppName,
		SessionID:        op.SessionID,
		CommandName:      op.CommandName,
		CommandLength:    op.CommandLength,
		Truncated:        op.Truncated,
		Unavailable:      op.Unavailable,
	}
	if len(op.Command) > 0 {
		if ext, err := bson.MarshalExtJSON(op.Command, false, false); err == nil {
			rec.Command = ext
		}
	}
	return rec
}

package attributes

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mrzor/currentop/internal/snapshot"
)

// Env builds the expression environment for op. A command that does not
// decode leaves command empty; the remaining fields are always set.
func Env(op *snapshot.Operation) map[string]any {
	command := map[string]any{}
	if len(op.Command) > 0 {
		var decoded map[string]any
		if err := bson.Unmarshal(op.Command, &decoded); err == nil {
			command = decoded
		}
	}
	return map[string]any{
		"opid":           int64(op.OpID),
		"worker":         op.Worker,
		"pid":            int(op.PID),
		"active":         op.Active,
		"unavailable":    op.Unavailable,
		"truncated":      op.Truncated,
		"micros_running": op.MicrosecsRunning,
		"secs_running":   float64(op.MicrosecsRunning) / float64(time.Second/time.Microsecond),
		"started_at":     op.StartedAt,
		"activity":       op.Activity,
		"client":         op.Client,
		"app_name":       op.AppName,
		"session_id":     op.SessionID,
		"command_name":   op.CommandName,
		"command_length": int(op.CommandLength),
		"command":        command,
	}
}

// Template is the type-checking environment for compiling expressions that
// will later run against Env.
func Template() map[string]any {
	return Env(&snapshot.Operation{})
}

// Package attributes evaluates expressions over in-flight operations: custom
// span attributes and the trace ID an operation's span is filed under.
//
// Expressions use the expr language against the environment built by Env:
//
//	opid, worker, pid, active, unavailable, truncated
//	micros_running, secs_running, started_at
//	activity, client, app_name, session_id
//	command_name, command_length, command (top-level fields of the command document)
//
// Two evaluators:
//   - Evaluator: evaluates custom attribute expressions
//   - TraceIDEvaluator: evaluates and validates the trace ID (32 hex chars or a UUID)
//
// Invalid trace IDs are hashed with SHA-256 to produce valid IDs.
package attributes

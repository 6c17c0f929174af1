package models

import "time"

type ExecOutcome string

const (
	ExecOutcomeRunning     ExecOutcome = "running"
	ExecOutcomeProgress    ExecOutcome = "progress"
	ExecOutcomeNoProgress  ExecOutcome = "no_progress"
	ExecOutcomeSpawnFailed ExecOutcome = "spawn_failed"
)

// TaskExecution records one agent session spawned for a task.
type TaskExecution struct {
	ID            int64       `json:"id"`
	RunID         int64       `json:"run_id"`
	Document      string      `json:"document"`
	TaskText      string      `json:"task_text"`
	TaskLine      int         `json:"task_line"`
	SessionID     string      `json:"session_id"`
	PID           *int        `json:"pid,omitempty"`
	ExitCode      *int        `json:"exit_code,omitempty"`
	StartedAt     *time.Time  `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Outcome       ExecOutcome `json:"outcome"`
	LoopIteration int         `json:"loop_iteration"`
}

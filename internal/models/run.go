package models

import "time"

type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusStopped  RunStatus = "stopped"
	RunStatusFailed   RunStatus = "failed"
)

// BatchRun is the history record of one Auto Run pass over a document queue.
type BatchRun struct {
	ID             int64      `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Folder         string     `json:"folder"`
	Documents      []string   `json:"documents"`
	Status         RunStatus  `json:"status"`
	LoopEnabled    bool       `json:"loop_enabled"`
	LoopIteration  int        `json:"loop_iteration"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	WorkspacePath  string     `json:"workspace_path,omitempty"`
	Error          string     `json:"error,omitempty"`
}

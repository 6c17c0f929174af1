package models

import "time"

// Task is a single checkbox item derived from document text.
type Task struct {
	Text      string `json:"text"`
	Done      bool   `json:"done"`
	LineIndex int    `json:"line"`
}

// Document is a markdown task file in an Auto Run folder.
type Document struct {
	Folder            string `json:"folder"`
	Filename          string `json:"filename"`
	Content           string `json:"content"`
	Tasks             []Task `json:"tasks"`
	ResetOnCompletion bool   `json:"reset_on_completion"`
	Version           int64  `json:"version"`
}

// Counts returns the number of checked tasks and the total task count.
func (d *Document) Counts() (completed, total int) {
	for _, t := range d.Tasks {
		if t.Done {
			completed++
		}
	}
	return completed, len(d.Tasks)
}

// Remaining returns the number of unchecked tasks.
func (d *Document) Remaining() int {
	completed, total := d.Counts()
	return total - completed
}

type BatchStatus string

const (
	BatchStatusIdle     BatchStatus = "idle"
	BatchStatusRunning  BatchStatus = "running"
	BatchStatusStopping BatchStatus = "stopping"
)

// BatchRunState is the live state of the batch controller.
type BatchRunState struct {
	RunID                int64       `json:"run_id"`
	Status               BatchStatus `json:"status"`
	Documents            []string    `json:"documents"`
	CurrentDocumentIndex int         `json:"current_document_index"`
	CurrentTaskIndex     int         `json:"current_task_index"`
	TotalTasks           int         `json:"total_tasks"`
	CompletedTasks       int         `json:"completed_tasks"`
	IsRunning            bool        `json:"is_running"`
	IsStopping           bool        `json:"is_stopping"`
	LoopEnabled          bool        `json:"loop_enabled"`
	LoopIteration        int         `json:"loop_iteration"`
	SessionIDs           []string    `json:"session_ids"`
	StartedAt            *time.Time  `json:"started_at,omitempty"`
}

// Clone returns a deep copy safe to hand to observers.
func (s BatchRunState) Clone() BatchRunState {
	c := s
	c.Documents = append([]string(nil), s.Documents...)
	c.SessionIDs = append([]string(nil), s.SessionIDs...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	return c
}

package batch

import (
	"time"

	"github.com/mpataki/maestro/internal/models"
)

type EventType string

const (
	EventRunStarted        EventType = "run_started"
	EventDocumentStarted   EventType = "document_started"
	EventTaskStarted       EventType = "task_started"
	EventTaskFinished      EventType = "task_finished"
	EventNoProgress        EventType = "no_progress"
	EventSpawnFailed       EventType = "spawn_failed"
	EventDocumentError     EventType = "document_error"
	EventDocumentCompleted EventType = "document_completed"
	EventDocumentReset     EventType = "document_reset"
	EventLoopRestarted     EventType = "loop_restarted"
	EventStopping          EventType = "stopping"
	EventRunFinished       EventType = "run_finished"
)

// Event is published on every controller transition with a snapshot of
// the state after it.
type Event struct {
	Type      EventType            `json:"type"`
	Time      time.Time            `json:"time"`
	Document  string               `json:"document,omitempty"`
	Task      string               `json:"task,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
	ExitCode  *int                 `json:"exit_code,omitempty"`
	Error     string               `json:"error,omitempty"`
	State     models.BatchRunState `json:"state"`
}

const subscriberBuffer = 64

// Subscribe returns a channel of controller events. Events are dropped for
// subscribers that fall behind; call the returned func to unsubscribe.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, subscriberBuffer)
	c.subs[id] = ch

	var closed bool
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if closed {
			return
		}
		closed = true
		delete(c.subs, id)
		close(ch)
	}
}

// emitLocked publishes ev with the current state. c.mu must be held.
func (c *Controller) emitLocked(ev Event) {
	ev.Time = time.Now()
	ev.State = c.state.Clone()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(ev)
}

package batch

import (
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/playbook"
)

// QueueEntry is one document in a batch queue.
type QueueEntry struct {
	Filename          string `json:"filename"`
	ResetOnCompletion bool   `json:"reset_on_completion,omitempty"`
}

func QueueFromPlaybook(pb *models.Playbook) []QueueEntry {
	queue := make([]QueueEntry, 0, len(pb.Documents))
	for _, d := range pb.Documents {
		queue = append(queue, QueueEntry{Filename: d.Filename, ResetOnCompletion: d.ResetOnCompletion})
	}
	return queue
}

// FromPlaybook returns the queue and options a playbook describes,
// layered over base.
func FromPlaybook(pb *models.Playbook, base Options) ([]QueueEntry, Options) {
	opts := base
	opts.Loop = pb.Loop
	opts.MaxLoops = pb.MaxLoops
	if pb.Prompt != "" {
		opts.Prompt = pb.Prompt
	}
	if script := playbook.ResolveScript(pb); script != "" {
		opts.PromptScript = script
	}
	if pb.Worktree != "" {
		opts.Worktree = pb.Worktree
	}
	return QueueFromPlaybook(pb), opts
}

// QueueFromNames builds a queue in the given order. Names listed in reset
// get ResetOnCompletion.
func QueueFromNames(names []string, reset []string) []QueueEntry {
	resetSet := make(map[string]bool, len(reset))
	for _, r := range reset {
		resetSet[docs.Normalize(r)] = true
	}
	queue := make([]QueueEntry, 0, len(names))
	for _, n := range names {
		n = docs.Normalize(n)
		queue = append(queue, QueueEntry{Filename: n, ResetOnCompletion: resetSet[n]})
	}
	return queue
}

func hasReset(queue []QueueEntry) bool {
	for _, e := range queue {
		if e.ResetOnCompletion {
			return true
		}
	}
	return false
}

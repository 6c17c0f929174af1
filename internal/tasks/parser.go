// Package tasks extracts and edits markdown checkbox tasks.
//
// A task line is an optionally indented list item whose bullet (-, * or +)
// is followed by a [ ] or [x] marker and some text. Anything else is kept
// verbatim and ignored for extraction.
package tasks

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mpataki/maestro/internal/models"
)

var ErrTaskIndex = errors.New("task index out of range")

var checkboxRegex = regexp.MustCompile(`^[ \t]*[-*+][ \t]+\[([ xX])\][ \t]+(.*\S)[ \t]*$`)

// List is a parsed document. It owns the original lines so edits can be
// written back without touching anything but the marker.
type List struct {
	lines   []string
	markers []int // byte offset of the marker character, per task
	Tasks   []models.Task
}

// Parse scans text line by line for checkbox tasks.
func Parse(text string) *List {
	l := &List{lines: strings.Split(text, "\n")}
	for i, line := range l.lines {
		body := strings.TrimSuffix(line, "\r")
		m := checkboxRegex.FindStringSubmatchIndex(body)
		if m == nil {
			continue
		}
		l.markers = append(l.markers, m[2])
		l.Tasks = append(l.Tasks, models.Task{
			Text:      body[m[4]:m[5]],
			Done:      body[m[2]] != ' ',
			LineIndex: i,
		})
	}
	return l
}

// String serializes the list back to document text.
func (l *List) String() string {
	return strings.Join(l.lines, "\n")
}

// Toggle flips the completion state of task i.
func (l *List) Toggle(i int) error {
	if i < 0 || i >= len(l.Tasks) {
		return fmt.Errorf("%w: %d (have %d)", ErrTaskIndex, i, len(l.Tasks))
	}
	return l.SetDone(i, !l.Tasks[i].Done)
}

// SetDone sets task i to done or not done, rewriting only its marker.
func (l *List) SetDone(i int, done bool) error {
	if i < 0 || i >= len(l.Tasks) {
		return fmt.Errorf("%w: %d (have %d)", ErrTaskIndex, i, len(l.Tasks))
	}
	t := &l.Tasks[i]
	if t.Done == done {
		return nil
	}
	mark := byte(' ')
	if done {
		mark = 'x'
	}
	line := l.lines[t.LineIndex]
	off := l.markers[i]
	l.lines[t.LineIndex] = line[:off] + string(mark) + line[off+1:]
	t.Done = done
	return nil
}

// ResetAll unchecks every task and reports how many changed.
func (l *List) ResetAll() int {
	changed := 0
	for i := range l.Tasks {
		if l.Tasks[i].Done {
			l.SetDone(i, false)
			changed++
		}
	}
	return changed
}

// Counts returns the number of checked tasks and the total.
func (l *List) Counts() (completed, total int) {
	for _, t := range l.Tasks {
		if t.Done {
			completed++
		}
	}
	return completed, len(l.Tasks)
}

// FirstPending returns the first unchecked task and its index.
func (l *List) FirstPending() (models.Task, int, bool) {
	for i, t := range l.Tasks {
		if !t.Done {
			return t, i, true
		}
	}
	return models.Task{}, -1, false
}

// Toggle is a convenience wrapper that parses text, flips task i and
// returns the new text.
func Toggle(text string, i int) (string, error) {
	l := Parse(text)
	if err := l.Toggle(i); err != nil {
		return text, err
	}
	return l.String(), nil
}

// Reset unchecks every task in text.
func Reset(text string) (string, int) {
	l := Parse(text)
	n := l.ResetAll()
	return l.String(), n
}

package tui

import (
	"context"
	"errors"
	"sort"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/tasks"
)

// Messages

type docsLoadedMsg struct {
	docs []docSummary
	err  error
}

type docLoadedMsg struct {
	doc  *models.Document
	open bool
	err  error
}

type runsLoadedMsg struct {
	runs []*models.BatchRun
	err  error
}

type batchEventMsg struct {
	event batch.Event
}

type docChangedMsg struct {
	change docs.Change
}

type batchStartedMsg struct {
	err error
}

// Commands

var errDocumentChanged = errors.New("document changed on disk; reloaded, try again")

func (a *App) loadDocs() tea.Msg {
	names, err := a.store.List()
	if err != nil {
		return docsLoadedMsg{err: err}
	}
	out := make([]docSummary, 0, len(names))
	for _, name := range names {
		doc, err := a.store.Load(name)
		if err != nil {
			continue
		}
		completed, total := doc.Counts()
		out = append(out, docSummary{Filename: name, Completed: completed, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return docsLoadedMsg{docs: out}
}

func (a *App) loadDocument(name string, open bool) tea.Cmd {
	return func() tea.Msg {
		doc, err := a.store.Load(name)
		return docLoadedMsg{doc: doc, open: open, err: err}
	}
}

// toggleTask flips task index of the document as it was at version. If the
// file changed since, nothing is written and the fresh document is shown.
func (a *App) toggleTask(name string, index int, version int64) tea.Cmd {
	return func() tea.Msg {
		doc, err := a.store.UpdateIfVersion(name, version, func(l *tasks.List) error {
			return l.Toggle(index)
		})
		if errors.Is(err, docs.ErrStaleVersion) {
			fresh, lerr := a.store.Load(name)
			if lerr != nil {
				return docLoadedMsg{err: lerr}
			}
			return docLoadedMsg{doc: fresh, err: errDocumentChanged}
		}
		return docLoadedMsg{doc: doc, err: err}
	}
}

func (a *App) resetDocument(name string) tea.Cmd {
	return func() tea.Msg {
		doc, err := a.store.Update(name, func(l *tasks.List) error {
			l.ResetAll()
			return nil
		})
		return docLoadedMsg{doc: doc, err: err}
	}
}

func (a *App) loadRuns() tea.Msg {
	runs, err := a.history.ListBatchRuns(50)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) startBatch(names []string) tea.Cmd {
	return func() tea.Msg {
		queue := batch.QueueFromNames(names, nil)
		return batchStartedMsg{err: a.ctrl.Start(context.Background(), queue, a.opts)}
	}
}

// waitForEvent delivers the next controller event.
func (a *App) waitForEvent() tea.Cmd {
	events := a.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return batchEventMsg{event: ev}
	}
}

func (a *App) waitForChange() tea.Cmd {
	changes := a.changes
	return func() tea.Msg {
		if changes == nil {
			return nil
		}
		c, ok := <-changes
		if !ok {
			return nil
		}
		return docChangedMsg{change: c}
	}
}

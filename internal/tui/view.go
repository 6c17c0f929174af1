package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/storage"
)

func (a *App) View() string {
	var s string
	switch a.view {
	case ViewDashboard:
		s = a.viewDashboard()
	case ViewDocument:
		s = a.viewDocument()
	case ViewHistory:
		s = a.viewHistory()
	}

	if a.searching {
		s += "\n" + a.search.View()
	}
	if top, ok := a.layers.TopID(); ok {
		switch {
		case a.confirming && top == a.confirmLayer:
			s += "\n\n" + a.viewConfirm()
		case a.showHelp && top == a.helpLayer:
			s += "\n\n" + a.viewHelp()
		}
	}
	return s
}

func (a *App) viewDashboard() string {
	s := a.styles.Title.Render("Maestro") + "  " + a.styles.Dim.Render(a.store.Folder()) + "\n\n"
	s += a.viewBatchState() + "\n\n"

	if a.err != nil {
		s += a.styles.Failed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n\n"
	}

	visible := a.visibleDocs()
	if len(visible) == 0 {
		if a.filter != "" {
			s += "No documents match the filter.\n"
		} else {
			s += "No documents yet. Add .md files with - [ ] tasks to the folder.\n"
		}
	} else {
		s += "Documents\n"
		s += "─────────\n"
		current := a.currentDocument()
		for i, d := range visible {
			line := a.formatDocLine(d, d.Filename == current)
			if i == a.selectedIdx {
				line = a.styles.Selected.Render("▶ " + line)
			} else if d.Total > 0 && d.Completed == d.Total {
				line = "  " + a.styles.Dim.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + a.styles.Help.Render("[enter] open  [r] run  [x] reset  [/] search  [h] history  [?] help  [q] quit")
	return s
}

func (a *App) formatDocLine(d docSummary, active bool) string {
	marker := " "
	if active {
		marker = a.spinner.View()
	}
	return fmt.Sprintf("%s %-32s %s %3d/%-3d", marker, truncate(d.Filename, 32), progressBar(d.Completed, d.Total, 12), d.Completed, d.Total)
}

func (a *App) currentDocument() string {
	if !a.state.IsRunning || a.state.CurrentDocumentIndex >= len(a.state.Documents) {
		return ""
	}
	return a.state.Documents[a.state.CurrentDocumentIndex]
}

func (a *App) viewBatchState() string {
	st := a.state
	var status string
	switch {
	case st.IsStopping:
		status = a.styles.Stopping.Render(a.spinner.View() + " stopping")
	case st.IsRunning:
		status = a.styles.Running.Render(a.spinner.View() + " running")
	default:
		status = a.styles.Dim.Render("○ idle")
	}

	s := a.styles.Label.Render("Auto Run: ") + status
	if st.IsRunning {
		s += fmt.Sprintf("  %d/%d tasks", st.CompletedTasks, st.TotalTasks)
		if doc := a.currentDocument(); doc != "" {
			s += "  " + doc
		}
		if st.LoopEnabled {
			s += fmt.Sprintf("  loop %d", st.LoopIteration)
		}
	}
	if a.lastEvent != "" {
		s += "\n" + a.styles.Dim.Render(a.lastEvent)
	}
	return s
}

func (a *App) viewDocument() string {
	if a.doc == nil {
		return "No document selected"
	}

	completed, total := a.doc.Counts()
	s := a.styles.Title.Render(a.doc.Filename) + "  " +
		a.styles.Dim.Render(fmt.Sprintf("%d/%d", completed, total)) + "\n\n"
	s += a.viewBatchState() + "\n\n"

	if a.err != nil {
		s += a.styles.Failed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n\n"
	}
	if a.notice != "" {
		s += a.styles.Dim.Render(a.notice) + "\n\n"
	}

	visible := a.visibleTasks()
	if len(a.doc.Tasks) == 0 {
		s += "(no tasks in this document)\n"
	}
	for i, idx := range visible {
		t := a.doc.Tasks[idx]
		box := "[ ]"
		text := t.Text
		if t.Done {
			box = a.styles.Complete.Render("[x]")
			text = a.styles.Dim.Render(text)
		}
		line := fmt.Sprintf("%s %s", box, text)
		if i == a.selectedTask {
			line = a.styles.Selected.Render("▶ ") + line
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	s += "\n" + a.styles.Help.Render("[space] toggle  [r] run this document  [x] reset  [/] search  [esc] back  [?] help")
	return s
}

func (a *App) viewHistory() string {
	s := a.styles.Title.Render("Run History") + "\n\n"
	if len(a.runs) == 0 {
		s += "No runs yet.\n"
	}
	for i, run := range a.runs {
		line := fmt.Sprintf("#%-3d %s  %-8s %3d/%-3d  %s",
			run.ID, a.formatStatus(run.Status), storage.FormatTimeAgo(run.StartedAt),
			run.CompletedTasks, run.TotalTasks, truncate(strings.Join(run.Documents, ", "), 40))
		if run.LoopEnabled {
			line += fmt.Sprintf("  loops:%d", run.LoopIteration)
		}
		if i == a.selectedIdx {
			line = a.styles.Selected.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}
	s += "\n" + a.styles.Help.Render("[↑/↓] select  [esc] back")
	return s
}

func (a *App) formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return a.styles.Running.Render("● running ")
	case models.RunStatusComplete:
		return a.styles.Complete.Render("✓ complete")
	case models.RunStatusStopped:
		return a.styles.Stopping.Render("■ stopped ")
	case models.RunStatusFailed:
		return a.styles.Failed.Render("✗ failed  ")
	default:
		return string(status)
	}
}

func (a *App) viewHelp() string {
	var lines []string
	for _, b := range a.keys.helpLines() {
		h := b.Help()
		lines = append(lines, fmt.Sprintf("%-10s %s", h.Key, h.Desc))
	}
	return a.styles.Overlay.Render(lipgloss.JoinVertical(lipgloss.Left,
		a.styles.Title.Render("Keys"),
		strings.Join(lines, "\n"),
	))
}

func (a *App) viewConfirm() string {
	return a.styles.Overlay.Render(
		"Stop the run after the current task finishes?\n\n" +
			a.styles.Help.Render("[y] stop  [n] keep running"),
	)
}

func progressBar(done, total, width int) string {
	if total == 0 {
		return strings.Repeat("·", width)
	}
	filled := done * width / total
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

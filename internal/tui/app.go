package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/layers"
	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/storage"
)

type View int

const (
	ViewDashboard View = iota
	ViewDocument
	ViewHistory
)

// Deps wires the app to the services it displays. History may be nil.
type Deps struct {
	Store      *docs.Store
	Controller *batch.Controller
	History    *storage.Storage
	Options    batch.Options
	Shortcuts  map[string][]string
	Theme      string
	Logger     *slog.Logger
}

type docSummary struct {
	Filename  string
	Completed int
	Total     int
}

type App struct {
	store   *docs.Store
	ctrl    *batch.Controller
	history *storage.Storage
	opts    batch.Options
	logger  *slog.Logger

	keys   KeyMap
	styles Styles
	layers *layers.Stack

	view         View
	docs         []docSummary
	selectedIdx  int
	doc          *models.Document
	selectedTask int
	runs         []*models.BatchRun

	search       textinput.Model
	searching    bool
	filter       string
	searchLayer  layers.ID
	docLayer     layers.ID
	historyLayer layers.ID
	showHelp     bool
	helpLayer    layers.ID
	confirming   bool
	confirmLayer layers.ID

	spinner   spinner.Model
	state     models.BatchRunState
	lastEvent string
	notice    string
	events    <-chan batch.Event
	unsub     func()
	changes   <-chan docs.Change
	cancel    context.CancelFunc

	width  int
	height int
	err    error
}

func NewApp(d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ti := textinput.New()
	ti.Placeholder = "filter"
	ti.Prompt = "/ "
	ti.CharLimit = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	keys := DefaultKeyMap()
	keys.Apply(d.Shortcuts)

	a := &App{
		store:   d.Store,
		ctrl:    d.Controller,
		history: d.History,
		opts:    d.Options,
		logger:  logger,
		keys:    keys,
		styles:  NewStyles(d.Theme),
		layers:  layers.New(),
		view:    ViewDashboard,
		search:  ti,
		spinner: sp,
		state:   d.Controller.State(),
	}
	a.events, a.unsub = d.Controller.Subscribe()
	return a
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.loadDocs, a.waitForEvent(), a.spinner.Tick}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if changes, err := a.store.Watch(ctx); err == nil {
		a.changes = changes
		cmds = append(cmds, a.waitForChange())
	} else {
		a.logger.Debug("document watcher unavailable", "error", err)
	}
	return tea.Batch(cmds...)
}

// Close releases the event subscription and the watcher.
func (a *App) Close() {
	if a.unsub != nil {
		a.unsub()
	}
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case docsLoadedMsg:
		a.docs = msg.docs
		a.err = msg.err
		if a.selectedIdx >= len(a.visibleDocs()) {
			a.selectedIdx = max(0, len(a.visibleDocs())-1)
		}
		return a, nil

	case docLoadedMsg:
		a.err = msg.err
		if errors.Is(msg.err, errDocumentChanged) {
			a.err = nil
			a.notice = msg.err.Error()
		}
		if msg.doc != nil {
			a.doc = msg.doc
			if a.selectedTask >= len(a.doc.Tasks) {
				a.selectedTask = max(0, len(a.doc.Tasks)-1)
			}
			if msg.open && msg.err == nil {
				a.openDocument()
			}
		}
		return a, a.loadDocs

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if msg.err == nil {
			a.openHistory()
		}
		return a, nil

	case batchEventMsg:
		a.state = msg.event.State
		a.lastEvent = describeEvent(msg.event)
		cmds := []tea.Cmd{a.waitForEvent(), a.loadDocs}
		if a.doc != nil {
			cmds = append(cmds, a.loadDocument(a.doc.Filename, false))
		}
		return a, tea.Batch(cmds...)

	case docChangedMsg:
		cmds := []tea.Cmd{a.waitForChange(), a.loadDocs}
		if a.doc != nil && a.doc.Filename == msg.change.Filename && !msg.change.Removed {
			cmds = append(cmds, a.loadDocument(a.doc.Filename, false))
		}
		return a, tea.Batch(cmds...)

	case batchStartedMsg:
		a.err = msg.err
		a.state = a.ctrl.State()
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a.notice = ""
	if msg.String() == "ctrl+c" {
		a.Close()
		return a, tea.Quit
	}

	if a.searching {
		return a.handleSearchKey(msg)
	}

	if key.Matches(msg, a.keys.Escape) {
		if !a.layers.HandleEscape() && a.filter != "" {
			a.clearFilter()
		}
		return a, nil
	}

	if a.layers.HasBlocking() {
		if a.confirming && a.layers.IsActive(a.confirmLayer) {
			switch {
			case key.Matches(msg, a.keys.Confirm):
				a.ctrl.Stop()
				a.state = a.ctrl.State()
				a.closeConfirm()
			case key.Matches(msg, a.keys.Deny):
				a.closeConfirm()
			}
		}
		return a, nil
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		a.Close()
		return a, tea.Quit

	case key.Matches(msg, a.keys.Help):
		if a.showHelp {
			a.closeHelp()
		} else {
			a.openHelp()
		}
		return a, nil

	case key.Matches(msg, a.keys.Search):
		a.openSearch()
		return a, textinput.Blink

	case key.Matches(msg, a.keys.Stop):
		if a.state.IsRunning && !a.state.IsStopping {
			a.openConfirm()
		}
		return a, nil

	case key.Matches(msg, a.keys.Refresh):
		return a, a.loadDocs
	}

	switch a.view {
	case ViewDashboard:
		return a.handleDashboardKey(msg)
	case ViewDocument:
		return a.handleDocumentKey(msg)
	case ViewHistory:
		return a.handleHistoryKey(msg)
	}
	return a, nil
}

func (a *App) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Escape):
		a.layers.HandleEscape()
		return a, nil
	case msg.Type == tea.KeyEnter:
		// keep the filter, leave input mode
		a.searching = false
		a.search.Blur()
		a.layers.Remove(a.searchLayer)
		if a.view == ViewDocument && a.filter != "" {
			a.layers.UpdateHandler(a.docLayer, a.clearDocumentFilter)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.search, cmd = a.search.Update(msg)
	a.filter = strings.TrimSpace(a.search.Value())
	a.selectedIdx = 0
	a.selectedTask = 0
	return a, cmd
}

func (a *App) handleDashboardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	visible := a.visibleDocs()
	switch {
	case key.Matches(msg, a.keys.Up):
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case key.Matches(msg, a.keys.Down):
		if a.selectedIdx < len(visible)-1 {
			a.selectedIdx++
		}

	case key.Matches(msg, a.keys.Open):
		if a.selectedIdx < len(visible) {
			return a, a.loadDocument(visible[a.selectedIdx].Filename, true)
		}

	case key.Matches(msg, a.keys.Run):
		names := make([]string, 0, len(visible))
		for _, d := range visible {
			names = append(names, d.Filename)
		}
		return a, a.startBatch(names)

	case key.Matches(msg, a.keys.Reset):
		if a.selectedIdx < len(visible) {
			return a, a.resetDocument(visible[a.selectedIdx].Filename)
		}

	case key.Matches(msg, a.keys.History):
		if a.history != nil {
			return a, a.loadRuns
		}
	}

	return a, nil
}

func (a *App) handleDocumentKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.doc == nil {
		return a, nil
	}
	visible := a.visibleTasks()

	switch {
	case key.Matches(msg, a.keys.Up):
		if a.selectedTask > 0 {
			a.selectedTask--
		}

	case key.Matches(msg, a.keys.Down):
		if a.selectedTask < len(visible)-1 {
			a.selectedTask++
		}

	case key.Matches(msg, a.keys.Toggle):
		if a.selectedTask < len(visible) {
			return a, a.toggleTask(a.doc.Filename, visible[a.selectedTask], a.doc.Version)
		}

	case key.Matches(msg, a.keys.Run):
		return a, a.startBatch([]string{a.doc.Filename})

	case key.Matches(msg, a.keys.Reset):
		return a, a.resetDocument(a.doc.Filename)
	}

	return a, nil
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Up):
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}
	case key.Matches(msg, a.keys.Down):
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}
	}
	return a, nil
}

// Layers. Each overlay pushes a layer whose escape handler closes it.

func (a *App) openDocument() {
	if a.view == ViewDocument {
		return
	}
	a.view = ViewDocument
	a.clearFilter()
	a.docLayer = a.layers.Push(layers.Layer{
		Name:     "document",
		Priority: layers.PriorityDocumentView,
		OnEscape: a.closeDocument,
	})
}

func (a *App) closeDocument() {
	a.layers.Remove(a.docLayer)
	a.view = ViewDashboard
	a.doc = nil
	a.selectedTask = 0
	a.clearFilter()
}

// clearDocumentFilter is the document layer's escape handler while a kept
// filter is showing: the first Esc clears it, the next closes the view.
func (a *App) clearDocumentFilter() {
	a.clearFilter()
	a.selectedTask = 0
	a.layers.UpdateHandler(a.docLayer, a.closeDocument)
}

func (a *App) openHistory() {
	if a.view == ViewHistory {
		return
	}
	a.view = ViewHistory
	a.selectedIdx = 0
	a.historyLayer = a.layers.Push(layers.Layer{
		Name:     "history",
		Priority: layers.PriorityDocumentView,
		OnEscape: func() {
			a.layers.Remove(a.historyLayer)
			a.view = ViewDashboard
			a.selectedIdx = 0
		},
	})
}

func (a *App) openSearch() {
	a.searching = true
	a.search.SetValue(a.filter)
	a.search.Focus()
	a.searchLayer = a.layers.Push(layers.Layer{
		Name:     "search",
		Priority: layers.PrioritySearch,
		OnEscape: func() {
			a.layers.Remove(a.searchLayer)
			a.searching = false
			a.search.Blur()
			a.clearFilter()
		},
	})
}

func (a *App) clearFilter() {
	a.filter = ""
	a.search.SetValue("")
}

func (a *App) openHelp() {
	a.showHelp = true
	a.helpLayer = a.layers.Push(layers.Layer{
		Name:     "help",
		Priority: layers.PriorityHelp,
		OnEscape: a.closeHelp,
	})
}

func (a *App) closeHelp() {
	a.layers.Remove(a.helpLayer)
	a.showHelp = false
}

func (a *App) openConfirm() {
	a.confirming = true
	a.confirmLayer = a.layers.Push(layers.Layer{
		Name:              "confirm-stop",
		Priority:          layers.PriorityConfirm,
		BlocksLowerLayers: true,
		OnEscape:          a.closeConfirm,
	})
}

func (a *App) closeConfirm() {
	a.layers.Remove(a.confirmLayer)
	a.confirming = false
}

func (a *App) visibleDocs() []docSummary {
	if a.filter == "" || a.view != ViewDashboard {
		return a.docs
	}
	var out []docSummary
	q := strings.ToLower(a.filter)
	for _, d := range a.docs {
		if strings.Contains(strings.ToLower(d.Filename), q) {
			out = append(out, d)
		}
	}
	return out
}

// visibleTasks returns task indexes in the open document matching the
// filter.
func (a *App) visibleTasks() []int {
	if a.doc == nil {
		return nil
	}
	q := strings.ToLower(a.filter)
	var out []int
	for i, t := range a.doc.Tasks {
		if q == "" || strings.Contains(strings.ToLower(t.Text), q) {
			out = append(out, i)
		}
	}
	return out
}

func describeEvent(ev batch.Event) string {
	switch ev.Type {
	case batch.EventTaskStarted:
		return fmt.Sprintf("%s: started %q", ev.Document, truncate(ev.Task, 40))
	case batch.EventTaskFinished:
		return fmt.Sprintf("%s: finished %q", ev.Document, truncate(ev.Task, 40))
	case batch.EventNoProgress:
		return fmt.Sprintf("%s: no progress, moving on", ev.Document)
	case batch.EventSpawnFailed, batch.EventDocumentError:
		return fmt.Sprintf("%s: %s", ev.Document, ev.Error)
	case batch.EventDocumentCompleted:
		return fmt.Sprintf("%s: complete", ev.Document)
	case batch.EventDocumentReset:
		return fmt.Sprintf("%s: reset", ev.Document)
	case batch.EventLoopRestarted:
		return fmt.Sprintf("loop %d", ev.State.LoopIteration)
	case batch.EventStopping:
		return "stopping after the current task"
	case batch.EventRunFinished:
		return fmt.Sprintf("run finished: %d/%d tasks", ev.State.CompletedTasks, ev.State.TotalTasks)
	}
	return string(ev.Type)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

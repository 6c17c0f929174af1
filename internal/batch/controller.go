// Package batch sequences agent sessions over a queue of Auto Run
// documents, one task at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/lua"
	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/process"
	"github.com/mpataki/maestro/internal/tasks"
	"github.com/mpataki/maestro/internal/workspace"
)

var (
	ErrAlreadyRunning = errors.New("a batch run is already in progress")
	ErrEmptyQueue     = errors.New("batch queue is empty")
)

// DefaultAgentCommand is used when Options.AgentCommand is empty.
var DefaultAgentCommand = []string{"claude", "--dangerously-skip-permissions"}

type Options struct {
	Loop     bool
	MaxLoops int // 0 means unbounded

	Prompt       string
	PromptScript string

	AgentCommand []string
	PTY          bool

	// WorkDir is where sessions run. Defaults to the document folder.
	WorkDir string

	// When Worktree names a git repository, each run gets a workspace under
	// WorkspaceDir holding a detached worktree, and sessions run there.
	WorkspaceDir string
	Worktree     string
}

// Spawner starts one agent session. process.Manager implements it.
type Spawner interface {
	Spawn(ctx context.Context, cfg process.Config) (process.Handle, error)
}

// Recorder persists run history. storage.Storage implements it.
type Recorder interface {
	CreateBatchRun(run *models.BatchRun) (int64, error)
	UpdateBatchRun(run *models.BatchRun) error
	CreateTaskExecution(exec *models.TaskExecution) (int64, error)
	UpdateTaskExecution(exec *models.TaskExecution) error
}

type Controller struct {
	store    *docs.Store
	spawner  Spawner
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	state   models.BatchRunState
	last    models.BatchRunState
	done    chan struct{}
	subs    map[int]chan Event
	nextSub int
}

// New creates an idle controller. recorder may be nil.
func New(store *docs.Store, spawner Spawner, recorder Recorder, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		store:    store,
		spawner:  spawner,
		recorder: recorder,
		logger:   logger,
		state:    models.BatchRunState{Status: models.BatchStatusIdle},
		done:     done,
		subs:     make(map[int]chan Event),
	}
}

// State returns a copy of the live state.
func (c *Controller) State() models.BatchRunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Last returns the final state of the most recently finished run.
func (c *Controller) Last() models.BatchRunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.Clone()
}

// Done is closed when the current run returns to idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Controller) Wait() {
	<-c.Done()
}

// Stop asks the run to go idle once the in-flight session exits. The
// session itself is left alone.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.IsRunning || c.state.IsStopping {
		return
	}
	c.state.IsStopping = true
	c.state.Status = models.BatchStatusStopping
	c.logger.Info("batch stop requested", "run", c.state.RunID)
	c.emitLocked(Event{Type: EventStopping})
}

func (c *Controller) stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsStopping
}

// Start begins a run over queue. Cancelling ctx acts like Stop.
func (c *Controller) Start(ctx context.Context, queue []QueueEntry, opts Options) error {
	if len(queue) == 0 {
		return ErrEmptyQueue
	}
	if err := c.store.Configured(); err != nil {
		return err
	}
	if len(opts.AgentCommand) == 0 {
		opts.AgentCommand = DefaultAgentCommand
	}
	if opts.Worktree != "" && opts.WorkspaceDir == "" {
		return fmt.Errorf("worktree %s requires a workspace directory", opts.Worktree)
	}

	c.mu.Lock()
	if c.state.IsRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	now := time.Now()
	queue = append([]QueueEntry(nil), queue...)
	names := make([]string, len(queue))
	for i, e := range queue {
		names[i] = docs.Normalize(e.Filename)
		queue[i].Filename = names[i]
	}
	c.state = models.BatchRunState{
		Status:      models.BatchStatusRunning,
		Documents:   names,
		IsRunning:   true,
		LoopEnabled: opts.Loop,
		StartedAt:   &now,
	}
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	r := &runner{
		c:     c,
		queue: queue,
		opts:  opts,
		record: &models.BatchRun{
			StartedAt:   now,
			Folder:      c.store.Folder(),
			Documents:   names,
			Status:      models.RunStatusRunning,
			LoopEnabled: opts.Loop,
		},
		remaining: make(map[string]int),
	}

	if err := r.begin(); err != nil {
		c.finish(done)
		return err
	}

	stopWatch := context.AfterFunc(ctx, c.Stop)
	go func() {
		r.run(context.WithoutCancel(ctx))
		stopWatch()
		c.finish(done)
	}()
	return nil
}

func (c *Controller) finish(done chan struct{}) {
	c.mu.Lock()
	c.state.IsRunning = false
	c.state.IsStopping = false
	c.state.Status = models.BatchStatusIdle
	c.last = c.state.Clone()
	c.emitLocked(Event{Type: EventRunFinished})
	c.state = models.BatchRunState{Status: models.BatchStatusIdle}
	close(done)
	c.mu.Unlock()
}

// runner holds the bookkeeping for one run. Only the run goroutine
// touches it.
type runner struct {
	c     *Controller
	queue []QueueEntry
	opts  Options

	record    *models.BatchRun
	ws        *workspace.Workspace
	remaining map[string]int
	lastErr   string
	progress  bool
}

func (r *runner) begin() error {
	c := r.c
	if c.recorder != nil {
		id, err := c.recorder.CreateBatchRun(r.record)
		if err != nil {
			c.logger.Warn("failed to record batch run", "error", err)
		} else {
			r.record.ID = id
		}
	}

	if r.opts.Worktree != "" {
		id := r.record.ID
		if id == 0 {
			id = time.Now().UnixNano()
		}
		ws, err := workspace.Create(r.opts.WorkspaceDir, id, r.opts.Worktree)
		if err != nil {
			r.record.Status = models.RunStatusFailed
			r.record.Error = err.Error()
			r.saveRecord()
			return err
		}
		r.ws = ws
		r.record.WorkspacePath = ws.Path
	}

	c.mu.Lock()
	c.state.RunID = r.record.ID
	c.emitLocked(Event{Type: EventRunStarted})
	c.mu.Unlock()

	c.logger.Info("batch run started", "run", r.record.ID, "documents", r.record.Documents, "loop", r.opts.Loop)
	return nil
}

func (r *runner) run(ctx context.Context) {
	c := r.c
	loopReset := hasReset(r.queue)

	for {
		r.refreshCounts()
		passProgress, allDone := r.pass(ctx)

		if c.stopping() {
			r.end(models.RunStatusStopped)
			return
		}
		if !r.opts.Loop || !loopReset || !passProgress || !allDone {
			break
		}

		c.mu.Lock()
		if r.opts.MaxLoops > 0 && c.state.LoopIteration >= r.opts.MaxLoops {
			c.mu.Unlock()
			c.logger.Info("loop limit reached", "run", r.record.ID, "max_loops", r.opts.MaxLoops)
			break
		}
		c.state.LoopIteration++
		iteration := c.state.LoopIteration
		c.emitLocked(Event{Type: EventLoopRestarted})
		c.mu.Unlock()

		r.record.LoopIteration = iteration
		r.saveRecord()
		c.logger.Info("batch loop restarted", "run", r.record.ID, "iteration", iteration)
	}

	status := models.RunStatusComplete
	if !r.progress && r.lastErr != "" {
		status = models.RunStatusFailed
	}
	r.end(status)
}

// pass walks the queue once. allDone reports whether every document was
// either completed during the pass or had nothing left to do.
func (r *runner) pass(ctx context.Context) (progress, allDone bool) {
	c := r.c
	allDone = true
	for i, entry := range r.queue {
		if c.stopping() {
			return progress, false
		}

		c.mu.Lock()
		c.state.CurrentDocumentIndex = i
		c.state.CurrentTaskIndex = 0
		c.mu.Unlock()

		doc, err := c.store.Load(entry.Filename)
		if err != nil {
			r.documentError(entry.Filename, err)
			allDone = false
			continue
		}
		if doc.Remaining() == 0 {
			continue
		}

		c.emit(Event{Type: EventDocumentStarted, Document: entry.Filename})
		completed, docProgress := r.runDocument(ctx, entry, doc)
		progress = progress || docProgress

		if !completed {
			allDone = false
			continue
		}

		c.emit(Event{Type: EventDocumentCompleted, Document: entry.Filename})
		c.logger.Info("document completed", "run", r.record.ID, "document", entry.Filename)
		if entry.ResetOnCompletion {
			r.resetDocument(entry.Filename)
		}
	}
	return progress, allDone
}

// runDocument spawns one session per pending task until the document is
// complete, a session makes no progress, or the run is stopping.
func (r *runner) runDocument(ctx context.Context, entry QueueEntry, doc *models.Document) (completed, progress bool) {
	c := r.c
	for {
		if c.stopping() {
			return false, progress
		}

		task, idx, ok := tasks.Parse(doc.Content).FirstPending()
		if !ok {
			return true, progress
		}
		before := doc.Remaining()

		after, exitCode, err := r.runTask(ctx, entry, doc, task, idx)
		if err != nil {
			return false, progress
		}

		r.remaining[entry.Filename] = after.Remaining()
		if after.Remaining() >= before {
			r.updateCounts(0)
			c.emit(Event{Type: EventNoProgress, Document: entry.Filename, Task: task.Text, ExitCode: exitCode})
			c.logger.Warn("session made no progress, advancing", "run", r.record.ID, "document", entry.Filename, "task", task.Text)
			return false, progress
		}

		progress = true
		r.progress = true
		r.updateCounts(before - after.Remaining())
		c.emit(Event{Type: EventTaskFinished, Document: entry.Filename, Task: task.Text, ExitCode: exitCode})

		if after.Remaining() == 0 {
			return true, progress
		}
		doc = after
	}
}

// runTask spawns the agent for one task, waits for it, and re-reads the
// document, returning it with the session's exit code. An error means the
// document should be left for this pass.
func (r *runner) runTask(ctx context.Context, entry QueueEntry, doc *models.Document, task models.Task, idx int) (*models.Document, *int, error) {
	c := r.c
	completedBefore, total := doc.Counts()

	c.mu.Lock()
	c.state.CurrentTaskIndex = idx
	loop := c.state.LoopIteration
	c.mu.Unlock()

	path, err := c.store.Path(entry.Filename)
	if err != nil {
		r.documentError(entry.Filename, err)
		return nil, nil, err
	}

	pc := lua.PromptContext{
		Document:  entry.Filename,
		Path:      path,
		Folder:    c.store.Folder(),
		Task:      task.Text,
		TaskIndex: idx,
		Loop:      loop,
		Completed: completedBefore,
		Total:     total,
	}

	exec := &models.TaskExecution{
		RunID:         r.record.ID,
		Document:      entry.Filename,
		TaskText:      task.Text,
		TaskLine:      task.LineIndex,
		Outcome:       models.ExecOutcomeRunning,
		LoopIteration: loop,
	}
	now := time.Now()
	exec.StartedAt = &now
	r.createExec(exec)

	handle, err := r.spawn(ctx, pc)
	if err != nil {
		exec.Outcome = models.ExecOutcomeSpawnFailed
		r.completeExec(exec)
		r.lastErr = err.Error()
		c.emit(Event{Type: EventSpawnFailed, Document: entry.Filename, Task: task.Text, Error: err.Error()})
		c.logger.Error("failed to spawn agent", "run", r.record.ID, "document", entry.Filename, "error", err)
		return nil, nil, err
	}

	pid := handle.PID()
	exec.SessionID = handle.ID()
	exec.PID = &pid
	r.updateExec(exec)

	c.mu.Lock()
	c.state.SessionIDs = append(c.state.SessionIDs, handle.ID())
	c.emitLocked(Event{Type: EventTaskStarted, Document: entry.Filename, Task: task.Text, SessionID: handle.ID()})
	c.mu.Unlock()
	c.logger.Info("task started", "run", r.record.ID, "document", entry.Filename, "task", task.Text, "session", handle.ID(), "pid", pid)

	exit := handle.Wait()
	code := exit.Code
	exec.ExitCode = &code
	if exit.Err != nil {
		c.logger.Warn("agent wait failed", "session", handle.ID(), "error", exit.Err)
	}

	after, err := c.store.Load(entry.Filename)
	if err != nil {
		exec.Outcome = models.ExecOutcomeNoProgress
		r.completeExec(exec)
		r.documentError(entry.Filename, err)
		return nil, &code, err
	}

	if after.Remaining() < doc.Remaining() {
		exec.Outcome = models.ExecOutcomeProgress
	} else {
		exec.Outcome = models.ExecOutcomeNoProgress
	}
	r.completeExec(exec)
	c.logger.Info("task finished", "run", r.record.ID, "document", entry.Filename, "session", handle.ID(), "code", code, "outcome", exec.Outcome)
	return after, &code, nil
}

func (r *runner) spawn(ctx context.Context, pc lua.PromptContext) (process.Handle, error) {
	prompt, err := r.c.buildPrompt(r.opts, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	dir := r.opts.WorkDir
	if dir == "" {
		dir = r.c.store.Folder()
	}
	if r.ws != nil {
		dir = r.ws.RepoPath
		meta := &workspace.RunMetadata{
			RunID:         r.record.ID,
			Folder:        pc.Folder,
			Document:      pc.Document,
			DocumentPath:  pc.Path,
			Task:          pc.Task,
			TaskIndex:     pc.TaskIndex,
			LoopIteration: pc.Loop,
			Completed:     pc.Completed,
			Total:         pc.Total,
		}
		if err := r.ws.WriteRunMetadata(meta); err != nil {
			return nil, err
		}
	}

	args := append([]string(nil), r.opts.AgentCommand[1:]...)
	args = append(args, "-p", prompt)

	return r.c.spawner.Spawn(ctx, process.Config{
		Command: r.opts.AgentCommand[0],
		Args:    args,
		Dir:     dir,
		PTY:     r.opts.PTY,
		Env: []string{
			"MAESTRO_RUN_ID=" + strconv.FormatInt(r.record.ID, 10),
			"MAESTRO_DOCUMENT=" + pc.Path,
			"MAESTRO_LOOP=" + strconv.Itoa(pc.Loop),
		},
	})
}

func (r *runner) resetDocument(name string) {
	c := r.c
	var n int
	_, err := c.store.Update(name, func(l *tasks.List) error {
		n = l.ResetAll()
		return nil
	})
	if err != nil {
		r.documentError(name, err)
		return
	}
	c.emit(Event{Type: EventDocumentReset, Document: name})
	c.logger.Info("document reset", "run", r.record.ID, "document", name, "tasks", n)
}

func (r *runner) documentError(name string, err error) {
	r.lastErr = err.Error()
	r.c.emit(Event{Type: EventDocumentError, Document: name, Error: err.Error()})
	r.c.logger.Error("document unavailable, skipping", "run", r.record.ID, "document", name, "error", err)
}

// refreshCounts re-reads remaining counts at the start of a pass.
func (r *runner) refreshCounts() {
	for _, e := range r.queue {
		doc, err := r.c.store.Load(e.Filename)
		if err != nil {
			r.remaining[e.Filename] = 0
			continue
		}
		r.remaining[e.Filename] = doc.Remaining()
	}
	r.updateCounts(0)
}

// updateCounts adds newly completed tasks and recomputes the total as
// completed plus what is left in the queue.
func (r *runner) updateCounts(completed int) {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.CompletedTasks += completed
	pending := 0
	for _, n := range r.remaining {
		pending += n
	}
	c.state.TotalTasks = c.state.CompletedTasks + pending
	r.record.CompletedTasks = c.state.CompletedTasks
	r.record.TotalTasks = c.state.TotalTasks
}

func (r *runner) end(status models.RunStatus) {
	now := time.Now()
	r.record.Status = status
	r.record.CompletedAt = &now
	if status == models.RunStatusFailed {
		r.record.Error = r.lastErr
	}
	r.saveRecord()
	r.c.logger.Info("batch run finished", "run", r.record.ID, "status", status,
		"completed", r.record.CompletedTasks, "total", r.record.TotalTasks, "loops", r.record.LoopIteration)
}

func (r *runner) saveRecord() {
	if r.c.recorder == nil || r.record.ID == 0 {
		return
	}
	if err := r.c.recorder.UpdateBatchRun(r.record); err != nil {
		r.c.logger.Warn("failed to update batch run", "run", r.record.ID, "error", err)
	}
}

func (r *runner) createExec(exec *models.TaskExecution) {
	if r.c.recorder == nil || r.record.ID == 0 {
		return
	}
	id, err := r.c.recorder.CreateTaskExecution(exec)
	if err != nil {
		r.c.logger.Warn("failed to record task execution", "run", r.record.ID, "error", err)
		return
	}
	exec.ID = id
}

func (r *runner) updateExec(exec *models.TaskExecution) {
	if r.c.recorder == nil || exec.ID == 0 {
		return
	}
	if err := r.c.recorder.UpdateTaskExecution(exec); err != nil {
		r.c.logger.Warn("failed to update task execution", "id", exec.ID, "error", err)
	}
}

func (r *runner) completeExec(exec *models.TaskExecution) {
	now := time.Now()
	exec.CompletedAt = &now
	r.updateExec(exec)
}

// Package process spawns agent CLI sessions and fans their output out to
// subscribers.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/term"
)

var ErrNotFound = errors.New("session not found")

// TailSize bounds the output kept per session.
const TailSize = 64 * 1024

const (
	defaultCols = 120
	defaultRows = 40

	drainTimeout = 2 * time.Second
)

// Config describes one process to spawn.
type Config struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
	PTY     bool     `json:"pty,omitempty"`
}

// Exit is the outcome of a finished process. Err is set only when the
// process could not be waited on; a non-zero exit code is not an error.
type Exit struct {
	Code int
	Err  error
}

// Handle is what callers that only spawn and wait need.
type Handle interface {
	ID() string
	PID() int
	Wait() Exit
}

type OutputKind string

const (
	OutputData OutputKind = "data"
	OutputExit OutputKind = "exit"
)

// Output is delivered to subscribers for every chunk read and once on exit.
type Output struct {
	SessionID string
	Kind      OutputKind
	Data      []byte
	Exit      *Exit
}

// Info is a snapshot of a session for listing.
type Info struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Args      []string  `json:"args,omitempty"`
	Dir       string    `json:"dir,omitempty"`
	PTY       bool      `json:"pty"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	subs     map[int]chan Output
	nextSub  int
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		sessions: make(map[string]*Session),
		subs:     make(map[int]chan Output),
	}
}

// Spawn starts a process. Cancelling ctx kills it; callers that must not
// preempt a running agent pass a context without cancellation.
func (m *Manager) Spawn(ctx context.Context, cfg Config) (Handle, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("spawn: empty command")
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		cmd:       cmd,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		manager:   m,
	}

	var err error
	if cfg.PTY {
		err = s.startPTY()
	} else {
		err = s.startPipes()
	}
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", cfg.Command, err)
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("session spawned", "session", s.id, "pid", s.PID(), "command", cfg.Command, "dir", cfg.Dir, "pty", cfg.PTY)
	return s, nil
}

// Get returns a session by id, running or exited.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

func (m *Manager) Write(id string, data []byte) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.write(data)
}

// Kill sends SIGKILL to the session's process group.
func (m *Manager) Kill(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.kill()
}

// Prune forgets exited sessions and returns how many were removed.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.exited() {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Subscribe returns a channel receiving data and exit messages for all
// sessions. Messages are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Output, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Output, 256)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *Manager) publish(out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- out:
		default:
		}
	}
}

// Session is one spawned process.
type Session struct {
	id        string
	cfg       Config
	cmd       *exec.Cmd
	startedAt time.Time
	manager   *Manager

	mu     sync.Mutex
	stdin  io.WriteCloser
	tty    *os.File
	tail   []byte
	exit   Exit
	killed bool
	done   chan struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Wait blocks until the process exits.
func (s *Session) Wait() Exit {
	<-s.done
	return s.exit
}

// Done is closed when the process has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Tail returns the most recent output.
func (s *Session) Tail() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.tail...)
}

func (s *Session) Info() Info {
	info := Info{
		ID:        s.id,
		PID:       s.PID(),
		Command:   s.cfg.Command,
		Args:      s.cfg.Args,
		Dir:       s.cfg.Dir,
		PTY:       s.cfg.PTY,
		StartedAt: s.startedAt,
		Running:   !s.exited(),
	}
	if !info.Running {
		code := s.exit.Code
		info.ExitCode = &code
	}
	return info
}

func (s *Session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) startPipes() error {
	s.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return err
	}
	out := outputWriter{s}
	s.cmd.Stdout = out
	s.cmd.Stderr = out
	// A background child can hold stdout open after the agent exits.
	s.cmd.WaitDelay = drainTimeout

	if err := s.cmd.Start(); err != nil {
		return err
	}
	s.stdin = stdin

	go func() {
		err := s.cmd.Wait()
		if errors.Is(err, exec.ErrWaitDelay) {
			err = nil
		}
		s.finish(err)
	}()
	return nil
}

// outputWriter feeds a session's stdout and stderr into its tail.
type outputWriter struct {
	s *Session
}

func (w outputWriter) Write(p []byte) (int, error) {
	w.s.record(p)
	return len(p), nil
}

func (s *Session) startPTY() error {
	cols, rows := defaultCols, defaultRows
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil && w > 0 && h > 0 {
			cols, rows = w, h
		}
	}

	tty, err := pty.StartWithSize(s.cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return err
	}
	s.tty = tty

	var wg sync.WaitGroup
	wg.Add(1)
	go s.pump(tty, &wg)
	go func() {
		err := s.cmd.Wait()
		// Reads return EIO once every holder of the tty is gone. A
		// grandchild can keep it open, so give the drain a bounded window.
		drained := make(chan struct{})
		go func() {
			wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
		}
		tty.Close()
		s.finish(err)
	}()
	return nil
}

func (s *Session) pump(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.record(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// record appends output to the tail and publishes it.
func (s *Session) record(p []byte) {
	chunk := append([]byte(nil), p...)
	s.mu.Lock()
	s.tail = append(s.tail, chunk...)
	if over := len(s.tail) - TailSize; over > 0 {
		s.tail = s.tail[over:]
	}
	s.mu.Unlock()
	s.manager.publish(Output{SessionID: s.id, Kind: OutputData, Data: chunk})
}

func (s *Session) finish(waitErr error) {
	exit := Exit{Code: -1}
	if s.cmd.ProcessState != nil {
		exit.Code = s.cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			exit.Err = waitErr
		}
	}

	s.mu.Lock()
	s.exit = exit
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	s.mu.Unlock()
	close(s.done)

	s.manager.logger.Info("session exited", "session", s.id, "pid", s.PID(), "code", exit.Code)
	s.manager.publish(Output{SessionID: s.id, Kind: OutputExit, Exit: &exit})
}

func (s *Session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited() {
		return fmt.Errorf("session %s has exited", s.id)
	}
	var w io.Writer = s.stdin
	if s.tty != nil {
		w = s.tty
	}
	if w == nil {
		return fmt.Errorf("session %s has no input", s.id)
	}
	_, err := w.Write(data)
	return err
}

func (s *Session) kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed || s.exited() || s.cmd.Process == nil {
		return nil
	}
	s.killed = true
	// Kill the process group so the agent's children go too
	if err := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return s.cmd.Process.Kill()
	}
	return nil
}

// Package docs reads and writes Auto Run markdown documents in a folder.
package docs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/tasks"
)

var (
	ErrNotConfigured = errors.New("auto run folder not configured")
	ErrNotFound      = errors.New("document not found")
	ErrInvalidName   = errors.New("invalid document name")
	ErrStaleVersion  = errors.New("document changed since it was read")
)

const Ext = ".md"

// Store is bound to one folder. Writes are last-writer-wins; the version
// counters only exist in memory.
type Store struct {
	folder string
	logger *slog.Logger

	mu       sync.Mutex
	versions map[string]int64
	known    map[string]string // last content written by us or seen by the watcher
}

func New(folder string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		folder:   folder,
		logger:   logger,
		versions: make(map[string]int64),
		known:    make(map[string]string),
	}
}

func (s *Store) Folder() string {
	return s.folder
}

// Configured reports whether the folder is set and is a readable directory.
func (s *Store) Configured() error {
	if s.folder == "" {
		return ErrNotConfigured
	}
	info, err := os.Stat(s.folder)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotConfigured, s.folder)
	}
	return nil
}

// Path resolves a document name inside the folder. Names are always
// relative and may omit the .md extension.
func (s *Store) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.HasSuffix(name, Ext) {
		name += Ext
	}
	return filepath.Join(s.folder, name), nil
}

// Normalize returns the filename as stored, with extension.
func Normalize(name string) string {
	if strings.HasSuffix(name, Ext) {
		return name
	}
	return name + Ext
}

func (s *Store) List() ([]string, error) {
	if err := s.Configured(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Ext) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Read(name string) (string, error) {
	text, _, err := s.read(name)
	return text, err
}

// read returns the document with its version. Content that differs from
// what the store last wrote or saw counts as an external change.
func (s *Store) read(name string) (string, int64, error) {
	if err := s.Configured(); err != nil {
		return "", 0, err
	}
	path, err := s.Path(name)
	if err != nil {
		return "", 0, err
	}

	key := Normalize(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.mu.Lock()
			s.forgetLocked(key)
			s.mu.Unlock()
			return "", 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", 0, fmt.Errorf("failed to read %s: %w", key, err)
	}

	text := string(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked(key, text)
	return text, s.versions[key], nil
}

// syncLocked records text as the current content of key, bumping the
// version when it differs from what was known. s.mu must be held.
func (s *Store) syncLocked(key, text string) bool {
	known, ok := s.known[key]
	s.known[key] = text
	if ok && known == text {
		return false
	}
	if ok {
		s.versions[key]++
	}
	return ok
}

func (s *Store) forgetLocked(key string) {
	if _, ok := s.known[key]; ok {
		delete(s.known, key)
		s.versions[key]++
	}
}

func (s *Store) Write(name, text string) error {
	if err := s.Configured(); err != nil {
		return err
	}
	path, err := s.Path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(Normalize(name), path, text)
}

// WriteIfVersion writes only if nobody changed the document since the
// caller observed version.
func (s *Store) WriteIfVersion(name, text string, version int64) error {
	if err := s.Configured(); err != nil {
		return err
	}
	path, err := s.Path(name)
	if err != nil {
		return err
	}

	key := Normalize(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		s.syncLocked(key, string(data))
	case errors.Is(err, fs.ErrNotExist):
		s.forgetLocked(key)
	default:
		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	if current := s.versions[key]; current != version {
		return fmt.Errorf("%w: %s is at version %d, not %d", ErrStaleVersion, key, current, version)
	}
	return s.writeLocked(key, path, text)
}

func (s *Store) writeLocked(key, path, text string) error {
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.versions[key]++
	s.known[key] = text
	return nil
}

func (s *Store) Version(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[Normalize(name)]
}

// Load reads a document and parses its tasks.
func (s *Store) Load(name string) (*models.Document, error) {
	text, version, err := s.read(name)
	if err != nil {
		return nil, err
	}
	return &models.Document{
		Folder:   s.folder,
		Filename: Normalize(name),
		Content:  text,
		Tasks:    tasks.Parse(text).Tasks,
		Version:  version,
	}, nil
}

// Update applies fn to the parsed task list and writes the result back
// when fn changed anything.
func (s *Store) Update(name string, fn func(l *tasks.List) error) (*models.Document, error) {
	_, version, err := s.read(name)
	if err != nil {
		return nil, err
	}
	return s.UpdateIfVersion(name, version, fn)
}

// UpdateIfVersion is Update for a caller that picked its edit from a
// document at version. It returns ErrStaleVersion if the document changed
// since, so task indexes cannot land on the wrong line.
func (s *Store) UpdateIfVersion(name string, version int64, fn func(l *tasks.List) error) (*models.Document, error) {
	text, current, err := s.read(name)
	if err != nil {
		return nil, err
	}
	if current != version {
		return nil, fmt.Errorf("%w: %s is at version %d, not %d", ErrStaleVersion, Normalize(name), current, version)
	}
	l := tasks.Parse(text)
	if err := fn(l); err != nil {
		return nil, err
	}
	if out := l.String(); out != text {
		if err := s.WriteIfVersion(name, out, version); err != nil {
			return nil, err
		}
	}
	return s.Load(name)
}

// Change is reported by Watch when a document changed on disk.
type Change struct {
	Filename string
	Version  int64
	Removed  bool
}

// Watch reports external changes to documents until ctx is done. Our own
// writes are filtered out by comparing content.
func (s *Store) Watch(ctx context.Context) (<-chan Change, error) {
	if err := s.Configured(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(s.folder); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.folder, err)
	}

	ch := make(chan Change, 16)
	go func() {
		defer close(ch)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				change, ok := s.observe(ev)
				if !ok {
					continue
				}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("document watcher error", "folder", s.folder, "error", err)
			}
		}
	}()
	return ch, nil
}

func (s *Store) observe(ev fsnotify.Event) (Change, bool) {
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, Ext) {
		return Change{}, false
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.forgetLocked(name)
		return Change{Filename: name, Version: s.versions[name], Removed: true}, true
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return Change{}, false
	}

	data, err := os.ReadFile(ev.Name)
	if err != nil {
		return Change{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if known, ok := s.known[name]; ok && known == string(data) {
		return Change{}, false
	}
	if !s.syncLocked(name, string(data)) {
		s.versions[name]++
	}
	s.logger.Debug("document changed on disk", "document", name, "version", s.versions[name])
	return Change{Filename: name, Version: s.versions[name]}, true
}

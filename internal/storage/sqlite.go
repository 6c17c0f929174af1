package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mpataki/maestro/internal/models"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batch_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		folder TEXT NOT NULL,
		documents TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		loop_enabled INTEGER NOT NULL DEFAULT 0,
		loop_iteration INTEGER NOT NULL DEFAULT 0,
		total_tasks INTEGER NOT NULL DEFAULT 0,
		completed_tasks INTEGER NOT NULL DEFAULT 0,
		workspace_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS task_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES batch_runs(id),
		document TEXT NOT NULL,
		task_text TEXT NOT NULL,
		task_line INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		pid INTEGER,
		exit_code INTEGER,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		outcome TEXT NOT NULL DEFAULT 'running',
		loop_iteration INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batch_runs_status ON batch_runs(status);
	CREATE INDEX IF NOT EXISTS idx_task_executions_run ON task_executions(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateBatchRun(run *models.BatchRun) (int64, error) {
	docs, err := json.Marshal(run.Documents)
	if err != nil {
		return 0, err
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	result, err := s.db.Exec(
		`INSERT INTO batch_runs (started_at, folder, documents, status, loop_enabled, loop_iteration, total_tasks, completed_tasks, workspace_path, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt, run.Folder, string(docs), run.Status, run.LoopEnabled, run.LoopIteration,
		run.TotalTasks, run.CompletedTasks, run.WorkspacePath, run.Error,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) UpdateBatchRun(run *models.BatchRun) error {
	_, err := s.db.Exec(
		`UPDATE batch_runs SET completed_at = ?, status = ?, loop_iteration = ?, total_tasks = ?, completed_tasks = ?, workspace_path = ?, error = ?
		 WHERE id = ?`,
		run.CompletedAt, run.Status, run.LoopIteration, run.TotalTasks, run.CompletedTasks, run.WorkspacePath, run.Error, run.ID,
	)
	return err
}

const batchRunColumns = `id, started_at, completed_at, folder, documents, status, loop_enabled, loop_iteration, total_tasks, completed_tasks, workspace_path, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanBatchRun(row scanner) (*models.BatchRun, error) {
	var run models.BatchRun
	var completedAt sql.NullTime
	var docs string

	err := row.Scan(
		&run.ID, &run.StartedAt, &completedAt, &run.Folder, &docs, &run.Status,
		&run.LoopEnabled, &run.LoopIteration, &run.TotalTasks, &run.CompletedTasks,
		&run.WorkspacePath, &run.Error,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(docs), &run.Documents); err != nil {
		return nil, fmt.Errorf("failed to decode documents for run %d: %w", run.ID, err)
	}
	return &run, nil
}

func (s *Storage) GetBatchRun(id int64) (*models.BatchRun, error) {
	row := s.db.QueryRow(`SELECT `+batchRunColumns+` FROM batch_runs WHERE id = ?`, id)
	run, err := scanBatchRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	return run, err
}

func (s *Storage) ListBatchRuns(limit int) ([]*models.BatchRun, error) {
	rows, err := s.db.Query(`SELECT `+batchRunColumns+` FROM batch_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.BatchRun
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// MarkInterruptedRuns flags runs left in 'running' by a crashed process.
func (s *Storage) MarkInterruptedRuns() (int64, error) {
	result, err := s.db.Exec(
		`UPDATE batch_runs SET status = ?, completed_at = ?, error = 'interrupted' WHERE status = ?`,
		models.RunStatusFailed, time.Now(), models.RunStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Storage) DeleteBatchRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM task_executions WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM batch_runs WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Storage) CreateTaskExecution(exec *models.TaskExecution) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO task_executions (run_id, document, task_text, task_line, session_id, pid, exit_code, started_at, completed_at, outcome, loop_iteration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.RunID, exec.Document, exec.TaskText, exec.TaskLine, exec.SessionID, exec.PID,
		exec.ExitCode, exec.StartedAt, exec.CompletedAt, exec.Outcome, exec.LoopIteration,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) UpdateTaskExecution(exec *models.TaskExecution) error {
	_, err := s.db.Exec(
		`UPDATE task_executions SET session_id = ?, pid = ?, exit_code = ?, started_at = ?, completed_at = ?, outcome = ?
		 WHERE id = ?`,
		exec.SessionID, exec.PID, exec.ExitCode, exec.StartedAt, exec.CompletedAt, exec.Outcome, exec.ID,
	)
	return err
}

func (s *Storage) GetTaskExecutionsForRun(runID int64) ([]*models.TaskExecution, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, document, task_text, task_line, session_id, pid, exit_code, started_at, completed_at, outcome, loop_iteration
		 FROM task_executions WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*models.TaskExecution
	for rows.Next() {
		var exec models.TaskExecution
		var exitCode, pid sql.NullInt64
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&exec.ID, &exec.RunID, &exec.Document, &exec.TaskText, &exec.TaskLine, &exec.SessionID,
			&pid, &exitCode, &startedAt, &completedAt, &exec.Outcome, &exec.LoopIteration,
		)
		if err != nil {
			return nil, err
		}

		if exitCode.Valid {
			code := int(exitCode.Int64)
			exec.ExitCode = &code
		}
		if pid.Valid {
			p := int(pid.Int64)
			exec.PID = &p
		}
		if startedAt.Valid {
			exec.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.Time
		}

		execs = append(execs, &exec)
	}

	return execs, rows.Err()
}

// Settings key/value store

func (s *Storage) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Storage) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	return err
}

func (s *Storage) DeleteSetting(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

func (s *Storage) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// FormatTimeAgo renders t relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}

package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	description TEXT NOT NULL,
	agent_role  TEXT NOT NULL,
	status      TEXT NOT NULL CHECK (status IN ('PENDING','PROCESSING','COMPLETED','FAILED')),
	result      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_role_status ON tasks(agent_role, status, created_at, id);
`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) a SQLite database at path and ensures the
// tasks table exists. The caller is responsible for calling Close.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrValidation)
	}
	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create db dir: %w", ErrStore, err)
		}
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_txlock=immediate&_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %w", ErrStore, path, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY

	pragmas := []string{"PRAGMA synchronous=NORMAL;"}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;")
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: apply pragma %q: %w", ErrStore, stmt, err)
		}
	}
	for _, raw := range strings.Split(sqliteSchema, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: create schema: %w", ErrStore, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create inserts a PENDING task with created_at and updated_at set to now.
func (s *SQLiteStore) Create(ctx context.Context, description, agentRole string) (int64, error) {
	if err := validateNew(description, agentRole); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (description, agent_role, status, result, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, ?)`,
		description, agentRole, string(StatusPending), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert task: %w", ErrStore, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert task id: %w", ErrStore, err)
	}
	return id, nil
}

// FetchNext peeks at the oldest pending task for agentRole. It does not
// change the task; two callers may see the same task.
func (s *SQLiteStore) FetchNext(ctx context.Context, agentRole string) (*Task, error) {
	if err := validateRole(agentRole); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE agent_role = ? AND status = ?
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
		agentRole, string(StatusPending),
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch next task: %w", ErrStore, err)
	}
	return t, nil
}

// ClaimNext moves the oldest pending task for agentRole to PROCESSING in a
// single conditional UPDATE and returns the claimed row.
func (s *SQLiteStore) ClaimNext(ctx context.Context, agentRole string) (*Task, error) {
	if err := validateRole(agentRole); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin claim tx: %w", ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM tasks
			WHERE agent_role = ? AND status = ?
			ORDER BY created_at ASC, id ASC LIMIT 1
		 ) AND status = ?
		 RETURNING id`,
		string(StatusProcessing), time.Now().UTC(),
		agentRole, string(StatusPending), string(StatusPending),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: claim task: %w", ErrStore, err)
	}

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("%w: read claimed task %d: %w", ErrStore, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit claim: %w", ErrStore, err)
	}
	return t, nil
}

// UpdateStatus sets status and result and refreshes updated_at.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, status Status, result string) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		string(status), result, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("%w: update task: %w", ErrStore, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update task: %w", ErrStore, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get task: %w", ErrStore, err)
	}
	return t, nil
}

// ListCompleted returns all COMPLETED tasks ordered by id.
func (s *SQLiteStore) ListCompleted(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY id ASC`,
		string(StatusCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list completed tasks: %w", ErrStore, err)
	}
	defer rows.Close()
	return collectRows(rows)
}

// List returns tasks matching the filter.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	q, args := listQuery(filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %w", ErrStore, err)
	}
	defer rows.Close()
	return collectRows(rows)
}

func collectRows(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan task: %w", ErrStore, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: task rows: %w", ErrStore, err)
	}
	return tasks, nil
}

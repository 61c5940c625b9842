package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          BIGSERIAL PRIMARY KEY,
	description TEXT NOT NULL,
	agent_role  TEXT NOT NULL,
	status      TEXT NOT NULL CHECK (status IN ('PENDING','PROCESSING','COMPLETED','FAILED')),
	result      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_role_status ON tasks(agent_role, status, created_at, id);
`

// PostgresStore persists tasks in PostgreSQL through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn (or DATABASE_URL when dsn is empty), pings
// the server and ensures the tasks table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres DSN or DATABASE_URL required", ErrValidation)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse postgres dsn: %w", ErrValidation, err)
	}
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", ErrStore, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", ErrStore, err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: create schema: %w", ErrStore, err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Create inserts a PENDING task with created_at and updated_at set to now.
func (s *PostgresStore) Create(ctx context.Context, description, agentRole string) (int64, error) {
	if err := validateNew(description, agentRole); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (description, agent_role, status, result, created_at, updated_at)
		 VALUES ($1, $2, $3, '', $4, $4) RETURNING id`,
		description, agentRole, string(StatusPending), now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert task: %w", ErrStore, err)
	}
	return id, nil
}

// FetchNext peeks at the oldest pending task for agentRole without claiming it.
func (s *PostgresStore) FetchNext(ctx context.Context, agentRole string) (*Task, error) {
	if err := validateRole(agentRole); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE agent_role = $1 AND status = $2
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
		agentRole, string(StatusPending),
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch next task: %w", ErrStore, err)
	}
	return t, nil
}

// ClaimNext moves the oldest pending task for agentRole to PROCESSING.
// Rows locked by a concurrent claimer are skipped rather than waited on.
func (s *PostgresStore) ClaimNext(ctx context.Context, agentRole string) (*Task, error) {
	if err := validateRole(agentRole); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2
		 WHERE id = (
			SELECT id FROM tasks
			WHERE agent_role = $3 AND status = $4
			ORDER BY created_at ASC, id ASC LIMIT 1
			FOR UPDATE SKIP LOCKED
		 ) AND status = $4
		 RETURNING `+taskColumns,
		string(StatusProcessing), time.Now().UTC(), agentRole, string(StatusPending),
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: claim task: %w", ErrStore, err)
	}
	return t, nil
}

// UpdateStatus sets status and result and refreshes updated_at.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status Status, result string) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, result = $2, updated_at = $3 WHERE id = $4`,
		string(status), result, time.Now().UTC(), id,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" { // check_violation
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.Message)
		}
		return fmt.Errorf("%w: update task: %w", ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get task: %w", ErrStore, err)
	}
	return t, nil
}

// ListCompleted returns all COMPLETED tasks ordered by id.
func (s *PostgresStore) ListCompleted(ctx context.Context) ([]*Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY id ASC`,
		string(StatusCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list completed tasks: %w", ErrStore, err)
	}
	return collectPgxRows(rows)
}

// List returns tasks matching the filter.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	q, args := listQuery(filter, func(n int) string { return "$" + strconv.Itoa(n) })
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %w", ErrStore, err)
	}
	return collectPgxRows(rows)
}

func collectPgxRows(rows pgx.Rows) ([]*Task, error) {
	defer rows.Close()
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

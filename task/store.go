package task

import (
	"context"
	"fmt"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and locates the task database.
type Options struct {
	Driver string // "sqlite" (default) or "postgres"
	Path   string // sqlite database file
	DSN    string // postgres connection string
}

// Open opens the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return OpenSQLite(opts.Path)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown task store driver %q", opts.Driver)
	}
}

func validateNew(description, agentRole string) error {
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("%w: description is required", ErrValidation)
	}
	if strings.TrimSpace(agentRole) == "" {
		return fmt.Errorf("%w: agent role is required", ErrValidation)
	}
	return nil
}

func validateStatus(status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return nil
}

func validateRole(agentRole string) error {
	if strings.TrimSpace(agentRole) == "" {
		return fmt.Errorf("%w: agent role is required", ErrValidation)
	}
	return nil
}

// scanner abstracts sql.Row, sql.Rows and pgx.Row for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

const taskColumns = `id, description, agent_role, status, result, created_at, updated_at`

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status string
	if err := s.Scan(&t.ID, &t.Description, &t.AgentRole, &status, &t.Result, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// listQuery builds the shared WHERE/ORDER/LIMIT tail for List. placeholder
// renders the n-th (1-based) bind parameter for the target dialect.
func listQuery(filter Filter, placeholder func(n int) string) (string, []any) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")
	args := []any{}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		q.WriteString(" AND status=" + placeholder(len(args)))
	}
	if filter.AgentRole != "" {
		args = append(args, filter.AgentRole)
		q.WriteString(" AND agent_role=" + placeholder(len(args)))
	}
	q.WriteString(" ORDER BY created_at ASC, id ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}
	return q.String(), args
}

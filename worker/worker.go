// Package worker runs a polling consumer over a task.Store.
//
// A Worker claims the oldest PENDING task for its role, runs a Handler on
// it, and settles the task as COMPLETED with the handler's result or FAILED
// with the handler's error text. Several workers may share a role; the
// store's atomic claim hands each task to exactly one of them.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/taskmem/task"
)

// DefaultInterval is the poll period used when Worker.Interval is unset.
const DefaultInterval = time.Second

// Handler processes a claimed task and returns its result text.
type Handler func(ctx context.Context, t *task.Task) (string, error)

// Worker polls a store for tasks of one agent role.
type Worker struct {
	Store   task.Store
	Role    string
	Handler Handler

	// Interval between polls once the queue is drained (default: 1s).
	Interval time.Duration

	// ID identifies the worker in logs (default: random UUID, see Name).
	ID string

	Logger *slog.Logger

	nameOnce sync.Once
	name     string
}

// Name returns ID, or the random UUID chosen on first use when ID is empty.
// It is stable for the life of the Worker.
func (w *Worker) Name() string {
	w.nameOnce.Do(func() {
		w.name = w.ID
		if w.name == "" {
			w.name = uuid.NewString()
		}
	})
	return w.name
}

func (w *Worker) logger() *slog.Logger {
	l := w.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("worker", w.Name()), slog.String("role", w.Role))
}

// RunOnce claims and processes at most one task. It reports whether a task
// was processed. Handler failures settle the task as FAILED and are not
// returned; store failures are.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	return w.runOnce(ctx, w.logger())
}

func (w *Worker) runOnce(ctx context.Context, log *slog.Logger) (bool, error) {
	if w.Handler == nil {
		return false, fmt.Errorf("worker %s: no handler", w.Role)
	}
	t, err := w.Store.ClaimNext(ctx, w.Role)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	if t == nil {
		return false, nil
	}

	log.Info("claimed task", slog.Int64("task_id", t.ID))
	start := time.Now()
	result, herr := w.handle(ctx, t)

	// Settle even if ctx was cancelled while the handler ran, so the task
	// does not stay PROCESSING.
	settleCtx := context.WithoutCancel(ctx)
	if herr != nil {
		if err := w.Store.UpdateStatus(settleCtx, t.ID, task.StatusFailed, herr.Error()); err != nil {
			return true, fmt.Errorf("mark task %d failed: %w", t.ID, err)
		}
		log.Warn("task failed",
			slog.Int64("task_id", t.ID),
			slog.Duration("took", time.Since(start)),
			slog.String("err", herr.Error()))
		return true, nil
	}
	if err := w.Store.UpdateStatus(settleCtx, t.ID, task.StatusCompleted, result); err != nil {
		return true, fmt.Errorf("mark task %d completed: %w", t.ID, err)
	}
	log.Info("task completed",
		slog.Int64("task_id", t.ID),
		slog.Duration("took", time.Since(start)))
	return true, nil
}

// handle runs the handler, turning a panic into an error.
func (w *Worker) handle(ctx context.Context, t *task.Task) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.Handler(ctx, t)
}

// Run processes tasks until ctx is cancelled. It drains the queue, then
// waits Interval before polling again. Store errors are logged and polling
// continues. Failed tasks are not retried.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := w.logger()
	log.Info("worker started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.drain(ctx, log)
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context, log *slog.Logger) {
	for ctx.Err() == nil {
		ok, err := w.runOnce(ctx, log)
		if err != nil {
			log.Error("worker poll failed", slog.String("err", err.Error()))
			return
		}
		if !ok {
			return
		}
	}
}

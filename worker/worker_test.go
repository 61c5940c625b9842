package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/becomeliminal/taskmem/memory"
	"github.com/becomeliminal/taskmem/memory/embedder/mock"
	"github.com/becomeliminal/taskmem/memory/store/chromem"
	"github.com/becomeliminal/taskmem/task"
	"github.com/becomeliminal/taskmem/worker"
)

func newStore(t *testing.T) *task.SQLiteStore {
	t.Helper()
	store, err := task.OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func create(t *testing.T, s task.Store, description, role string) int64 {
	t.Helper()
	id, err := s.Create(context.Background(), description, role)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func get(t *testing.T, s task.Store, id int64) *task.Task {
	t.Helper()
	tk, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%d): %v", id, err)
	}
	return tk
}

func TestRunOnce_Completes(t *testing.T) {
	store := newStore(t)
	id := create(t, store, "write docs", "writer")
	create(t, store, "other role", "tester")

	w := &worker.Worker{
		Store: store,
		Role:  "writer",
		Handler: func(ctx context.Context, tk *task.Task) (string, error) {
			if tk.Status != task.StatusProcessing {
				t.Errorf("handler saw status %s, want PROCESSING", tk.Status)
			}
			return "done: " + tk.Description, nil
		},
	}

	ok, err := w.RunOnce(context.Background())
	if err != nil || !ok {
		t.Fatalf("RunOnce = %v, %v; want true, nil", ok, err)
	}
	got := get(t, store, id)
	if got.Status != task.StatusCompleted || got.Result != "done: write docs" {
		t.Errorf("task = %+v", got)
	}

	ok, err = w.RunOnce(context.Background())
	if err != nil || ok {
		t.Fatalf("RunOnce on empty queue = %v, %v; want false, nil", ok, err)
	}
}

func TestRunOnce_HandlerErrorFails(t *testing.T) {
	store := newStore(t)
	id := create(t, store, "explode", "writer")

	w := &worker.Worker{
		Store: store,
		Role:  "writer",
		Handler: func(context.Context, *task.Task) (string, error) {
			return "", errors.New("disk full")
		},
	}
	ok, err := w.RunOnce(context.Background())
	if err != nil || !ok {
		t.Fatalf("RunOnce = %v, %v", ok, err)
	}
	got := get(t, store, id)
	if got.Status != task.StatusFailed || got.Result != "disk full" {
		t.Errorf("task = %+v, want FAILED with error text", got)
	}
}

func TestRunOnce_HandlerPanicFails(t *testing.T) {
	store := newStore(t)
	id := create(t, store, "panic", "writer")

	w := &worker.Worker{
		Store: store,
		Role:  "writer",
		Handler: func(context.Context, *task.Task) (string, error) {
			panic("boom")
		},
	}
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got := get(t, store, id)
	if got.Status != task.StatusFailed || !strings.Contains(got.Result, "boom") {
		t.Errorf("task = %+v, want FAILED mentioning the panic", got)
	}
}

func TestRunOnce_NoHandler(t *testing.T) {
	w := &worker.Worker{Store: newStore(t), Role: "writer"}
	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error without handler")
	}
}

func TestRunOnce_SharedWorker(t *testing.T) {
	store := newStore(t)
	for i := 0; i < 8; i++ {
		create(t, store, "task", "writer")
	}
	w := &worker.Worker{
		Store: store,
		Role:  "writer",
		Handler: func(ctx context.Context, tk *task.Task) (string, error) {
			return "ok", nil
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ok, err := w.RunOnce(context.Background())
				if err != nil {
					t.Errorf("RunOnce: %v", err)
					return
				}
				if !ok {
					return
				}
			}
		}()
	}
	wg.Wait()

	name := w.Name()
	if name == "" || w.Name() != name {
		t.Errorf("Name = %q, want a stable generated id", name)
	}
	if w.ID != "" {
		t.Errorf("ID was rewritten to %q", w.ID)
	}
	completed, err := store.ListCompleted(context.Background())
	if err != nil {
		t.Fatalf("ListCompleted: %v", err)
	}
	if len(completed) != 8 {
		t.Errorf("completed %d tasks, want 8", len(completed))
	}
}

func TestName_UsesID(t *testing.T) {
	w := &worker.Worker{ID: "w-1"}
	if got := w.Name(); got != "w-1" {
		t.Errorf("Name = %q, want w-1", got)
	}
}

func TestRun_DrainsAndStops(t *testing.T) {
	store := newStore(t)
	var ids []int64
	for _, d := range []string{"a", "b", "c"} {
		ids = append(ids, create(t, store, d, "writer"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu   sync.Mutex
		seen []string
	)
	w := &worker.Worker{
		Store:    store,
		Role:     "writer",
		Interval: 10 * time.Millisecond,
		Handler: func(_ context.Context, tk *task.Task) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, tk.Description)
			if len(seen) == 4 {
				cancel()
			}
			return "ok", nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// A task created after the initial drain is picked up by polling.
	time.Sleep(50 * time.Millisecond)
	ids = append(ids, create(t, store, "d", "writer"))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("worker did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(seen, ",") != "a,b,c,d" {
		t.Errorf("processed %v, want FIFO a,b,c,d", seen)
	}
	for _, id := range ids {
		if got := get(t, store, id); got.Status != task.StatusCompleted {
			t.Errorf("task %d status = %s", id, got.Status)
		}
	}
}

func TestRun_ConcurrentWorkersShareQueue(t *testing.T) {
	store := newStore(t)
	const n = 15
	for i := 0; i < n; i++ {
		create(t, store, "job", "writer")
	}

	var (
		mu    sync.Mutex
		count = map[int64]int{}
	)
	handler := func(_ context.Context, tk *task.Task) (string, error) {
		mu.Lock()
		count[tk.ID]++
		mu.Unlock()
		return "", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := &worker.Worker{Store: store, Role: "writer", Handler: handler}
			for {
				ok, err := w.RunOnce(context.Background())
				if err != nil {
					t.Errorf("RunOnce: %v", err)
					return
				}
				if !ok {
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(count) != n {
		t.Errorf("processed %d distinct tasks, want %d", len(count), n)
	}
	for id, c := range count {
		if c != 1 {
			t.Errorf("task %d processed %d times", id, c)
		}
	}
}

func TestContextHandler(t *testing.T) {
	ctx := context.Background()
	vectors, err := chromem.New()
	if err != nil {
		t.Fatal(err)
	}
	embedder := mock.New().
		Set("add login endpoint", []float32{1, 0}).
		Set("auth uses JWT tokens", []float32{0.9, 0.1}).
		Set("charts use d3", []float32{0, 1})
	manager := memory.NewManager(vectors, embedder, nil)
	if err := manager.AddDocument(ctx, "auth uses JWT tokens", "r1", "requirements"); err != nil {
		t.Fatal(err)
	}
	if err := manager.AddDocument(ctx, "charts use d3", "r2", "requirements"); err != nil {
		t.Fatal(err)
	}

	store := newStore(t)
	id := create(t, store, "add login endpoint", "backend")
	w := &worker.Worker{Store: store, Role: "backend", Handler: worker.ContextHandler(manager, 1)}
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := get(t, store, id)
	if got.Status != task.StatusCompleted || got.Result != "auth uses JWT tokens" {
		t.Errorf("task = %+v, want completed with nearest requirement", got)
	}
}

func TestContextHandler_RetrievalError(t *testing.T) {
	ctx := context.Background()
	vectors, _ := chromem.New()
	embedder := mock.New()
	manager := memory.NewManager(vectors, embedder, nil)
	if err := manager.AddDocument(ctx, "something", "x", "code"); err != nil {
		t.Fatal(err)
	}
	embedder.Fail(errors.New("provider down"))

	store := newStore(t)
	id := create(t, store, "needs context", "backend")
	w := &worker.Worker{Store: store, Role: "backend", Handler: worker.ContextHandler(manager, 3)}
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := get(t, store, id); got.Status != task.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

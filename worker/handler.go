package worker

import (
	"context"
	"fmt"

	"github.com/becomeliminal/taskmem/task"
)

// Retriever returns memory context for a query. memory.Manager satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, n int) (string, error)
}

// ContextHandler returns a Handler whose result is the memory context
// retrieved for the task description, n matches at most. A task with no
// relevant context completes with an empty result.
func ContextHandler(r Retriever, n int) Handler {
	return func(ctx context.Context, t *task.Task) (string, error) {
		text, err := r.Retrieve(ctx, t.Description, n)
		if err != nil {
			return "", fmt.Errorf("retrieve context for task %d: %w", t.ID, err)
		}
		return text, nil
	}
}

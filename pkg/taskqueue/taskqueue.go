// Package taskqueue defines the pluggable task-queue contract the Foreman
// dispatches against, and the tag/library filter the two backends
// (sqlstore, kvstore) both honor identically.
package taskqueue

import (
	"context"

	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue/qfilter"
)

// Filter is the library/tag filter get_next_pending honors. See
// pkg/taskqueue/qfilter for the three-way tag semantics.
type Filter = qfilter.Filter

// Interface is the task-queue contract every backend implements. It is the
// sole surface the Foreman and post-processor use to read and mutate task
// state; callers never touch a backend's storage directly.
type Interface interface {
	Create(ctx context.Context, t *task.Task) error

	ListPending(ctx context.Context, limit int) ([]*task.Task, error)
	ListInProgress(ctx context.Context, limit int) ([]*task.Task, error)
	ListProcessed(ctx context.Context, limit int) ([]*task.Task, error)

	// GetNextPending atomically claims the highest-priority pending task
	// matching filter, transitioning it to in_progress, or returns
	// (nil, nil) if none match.
	GetNextPending(ctx context.Context, filter Filter) (*task.Task, error)

	// GetNextProcessed returns the oldest processed task for the
	// post-processor without changing its status, or returns (nil, nil) if
	// the processed set is empty.
	GetNextProcessed(ctx context.Context) (*task.Task, error)

	MarkInProgress(ctx context.Context, t *task.Task) error
	MarkProcessed(ctx context.Context, t *task.Task) error
	MarkComplete(ctx context.Context, t *task.Task) error

	PendingEmpty(ctx context.Context) (bool, error)
	InProgressEmpty(ctx context.Context) (bool, error)
	ProcessedEmpty(ctx context.Context) (bool, error)

	// RequeueAtBottom moves taskID back to pending with a priority below
	// the current minimum, removing it from in_progress if present.
	// Reports false if taskID does not exist.
	RequeueAtBottom(ctx context.Context, taskID int64) (bool, error)

	Get(ctx context.Context, taskID int64) (*task.Task, error)
	Delete(ctx context.Context, taskID int64) error

	Close() error
}

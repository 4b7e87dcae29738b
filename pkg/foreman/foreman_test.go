package foreman

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/library"
	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
	"github.com/unmanic/unmanicd/pkg/workergroup"
)

// fakeQueue is a minimal in-memory taskqueue.Interface stand-in, enough
// to exercise dispatch gating without a real sqlite/redis backend.
type fakeQueue struct {
	pending   []*task.Task
	processed []*task.Task
}

func (q *fakeQueue) Create(ctx context.Context, t *task.Task) error { return nil }
func (q *fakeQueue) ListPending(ctx context.Context, limit int) ([]*task.Task, error) {
	return q.pending, nil
}
func (q *fakeQueue) ListInProgress(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (q *fakeQueue) ListProcessed(ctx context.Context, limit int) ([]*task.Task, error) {
	return q.processed, nil
}
func (q *fakeQueue) GetNextPending(ctx context.Context, filter taskqueue.Filter) (*task.Task, error) {
	return nil, nil
}
func (q *fakeQueue) GetNextProcessed(ctx context.Context) (*task.Task, error) { return nil, nil }
func (q *fakeQueue) MarkInProgress(ctx context.Context, t *task.Task) error   { return nil }
func (q *fakeQueue) MarkProcessed(ctx context.Context, t *task.Task) error { return nil }
func (q *fakeQueue) MarkComplete(ctx context.Context, t *task.Task) error  { return nil }
func (q *fakeQueue) PendingEmpty(ctx context.Context) (bool, error)        { return len(q.pending) == 0, nil }
func (q *fakeQueue) InProgressEmpty(ctx context.Context) (bool, error)     { return true, nil }
func (q *fakeQueue) ProcessedEmpty(ctx context.Context) (bool, error)      { return len(q.processed) == 0, nil }
func (q *fakeQueue) RequeueAtBottom(ctx context.Context, taskID int64) (bool, error) {
	return true, nil
}
func (q *fakeQueue) Get(ctx context.Context, taskID int64) (*task.Task, error) { return nil, nil }
func (q *fakeQueue) Delete(ctx context.Context, taskID int64) error            { return nil }
func (q *fakeQueue) Close() error                                              { return nil }

func TestRepetitionMatches(t *testing.T) {
	monday := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) // a Monday
	assert.True(t, repetitionMatches(workergroup.RepetitionDaily, monday))
	assert.True(t, repetitionMatches(workergroup.RepetitionWeekday, monday))
	assert.False(t, repetitionMatches(workergroup.RepetitionWeekend, monday))
	assert.True(t, repetitionMatches(workergroup.RepetitionMonday, monday))
	assert.False(t, repetitionMatches(workergroup.RepetitionTuesday, monday))
}

// stubLibraries implements libraryLookup against an in-memory slice.
type stubLibraries struct {
	libs []*library.Library
}

func (s *stubLibraries) List() ([]*library.Library, error) { return s.libs, nil }
func (s *stubLibraries) Get(id int64) (*library.Library, error) {
	for _, l := range s.libs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, assert.AnError
}

func TestConfigHashChangesWithPluginFlow(t *testing.T) {
	libs := &stubLibraries{libs: []*library.Library{
		{ID: 1, Name: "Movies", PluginFlow: []string{"transcode_h264"}},
	}}
	f := &Foreman{libraries: libs}

	first := f.configHash()
	libs.libs[0].PluginFlow = []string{"transcode_h264", "subtitle_strip"}
	second := f.configHash()

	assert.NotEqual(t, first, second)
}

func TestValidateConfigPausesOnDrift(t *testing.T) {
	libs := &stubLibraries{libs: []*library.Library{{ID: 1, PluginFlow: []string{"a"}}}}
	f := New(&fakeQueue{}, nil, libs, nil, nil, nil)

	// First tick just establishes the baseline hash.
	f.validateConfig()
	require.True(t, f.validationOK)

	// Drift.
	libs.libs[0].PluginFlow = []string{"a", "b"}
	f.validateConfig()
	assert.False(t, f.validationOK)

	// Settle back - a real drift wouldn't un-happen, but this exercises
	// the resume path deterministically.
	f.lastConfigHash = f.configHash()
	f.validateConfig()
	assert.True(t, f.validationOK)
}

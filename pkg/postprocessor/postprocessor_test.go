package postprocessor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
)

type fakeQueue struct {
	deleted   []int64
	completed []*task.Task
	requeued  []int64
}

func (q *fakeQueue) Create(ctx context.Context, t *task.Task) error { return nil }
func (q *fakeQueue) ListPending(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (q *fakeQueue) ListInProgress(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (q *fakeQueue) ListProcessed(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (q *fakeQueue) GetNextPending(ctx context.Context, filter taskqueue.Filter) (*task.Task, error) {
	return nil, nil
}
func (q *fakeQueue) GetNextProcessed(ctx context.Context) (*task.Task, error) { return nil, nil }
func (q *fakeQueue) MarkInProgress(ctx context.Context, t *task.Task) error   { return nil }
func (q *fakeQueue) MarkProcessed(ctx context.Context, t *task.Task) error    { return nil }
func (q *fakeQueue) MarkComplete(ctx context.Context, t *task.Task) error {
	q.completed = append(q.completed, t)
	return nil
}
func (q *fakeQueue) PendingEmpty(ctx context.Context) (bool, error)    { return true, nil }
func (q *fakeQueue) InProgressEmpty(ctx context.Context) (bool, error) { return true, nil }
func (q *fakeQueue) ProcessedEmpty(ctx context.Context) (bool, error)  { return true, nil }
func (q *fakeQueue) RequeueAtBottom(ctx context.Context, taskID int64) (bool, error) {
	q.requeued = append(q.requeued, taskID)
	return true, nil
}
func (q *fakeQueue) Get(ctx context.Context, taskID int64) (*task.Task, error) { return nil, nil }
func (q *fakeQueue) Delete(ctx context.Context, taskID int64) error {
	q.deleted = append(q.deleted, taskID)
	return nil
}
func (q *fakeQueue) Close() error { return nil }

type spyHistory struct {
	records []HistoryRecord
}

func (s *spyHistory) SaveTaskHistory(r HistoryRecord) error {
	s.records = append(s.records, r)
	return nil
}

type spyScratch struct {
	purged []int64
}

func (s *spyScratch) Purge(taskID int64) { s.purged = append(s.purged, taskID) }

func TestDestinationPathUsesCacheExtension(t *testing.T) {
	got := destinationPath("/media/movies/The Thing.mkv", "/cache/x/The Thing-abc123.mp4")
	assert.Equal(t, "/media/movies/The Thing.mp4", got)
}

func TestProcessOneMissingCacheFailsImmediately(t *testing.T) {
	dir := t.TempDir()
	q := &fakeQueue{}
	h := &spyHistory{}
	sc := &spyScratch{}
	p := New(q, h, sc)

	tsk := &task.Task{ID: 1, Abspath: filepath.Join(dir, "movie.mkv"), CachePath: filepath.Join(dir, "missing.mp4")}

	start := time.Now()
	p.processOne(context.Background(), tsk)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond, "missing-cache path must fail immediately, no wait")
	require.Len(t, h.records, 1)
	assert.False(t, h.records[0].TaskSuccess)
	assert.Equal(t, []int64{1}, q.deleted)
	assert.False(t, p.hasRetryCount(tsk.Abspath))
}

func TestProcessOneSuccessMovesAndPurges(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(source, []byte("src"), 0o644))
	cache := filepath.Join(dir, "movie-abc123.mp4")
	require.NoError(t, os.WriteFile(cache, []byte("transcoded"), 0o644))

	q := &fakeQueue{}
	h := &spyHistory{}
	sc := &spyScratch{}
	p := New(q, h, sc)

	tsk := &task.Task{ID: 2, Abspath: source, CachePath: cache}
	p.processOne(context.Background(), tsk)

	dest := filepath.Join(dir, "movie.mp4")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "transcoded", string(data))

	require.Len(t, h.records, 1)
	assert.True(t, h.records[0].TaskSuccess)
	assert.Equal(t, []int64{2}, sc.purged)
	require.Len(t, q.completed, 1)
	assert.Equal(t, task.StatusComplete, q.completed[0].Status)
}

func (p *PostProcessor) hasRetryCount(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.retries[key]
	return ok
}

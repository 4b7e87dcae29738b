package kvstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue/qfilter"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return &Store{rdb: rdb}
}

func TestCreateAndClaimUnfiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := task.New(0, "/movies/A.mkv", task.TypeLocal, 1, 0, 0, "/cache")
	tk.Status = task.StatusPending
	require.NoError(t, s.Create(ctx, tk))

	claimed, err := s.GetNextPending(ctx, qfilter.Filter{})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, tk.ID, claimed.ID)
	assert.Equal(t, task.StatusInProgress, claimed.Status)

	empty, err := s.PendingEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestClaimReturnsNilWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetNextPending(context.Background(), qfilter.Filter{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRequeueAtBottomMovesFromInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := task.New(0, "/movies/A.mkv", task.TypeLocal, 1, 10, 0, "/cache")
	a.Status = task.StatusPending
	require.NoError(t, s.Create(ctx, a))

	claimed, err := s.GetNextPending(ctx, qfilter.Filter{})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ok, err := s.RequeueAtBottom(ctx, claimed.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	inProgEmpty, err := s.InProgressEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, inProgEmpty)

	pendEmpty, err := s.PendingEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, pendEmpty)
}

func TestGetNextProcessedOrdersByFinishNotPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// b has a higher priority than a but is marked processed second -
	// GetNextProcessed must still return a first, since the processed set
	// is ordered by finish order, not by the priority score pending/
	// in_progress use.
	a := task.New(0, "/movies/A.mkv", task.TypeLocal, 1, 0, 1, "/cache")
	a.Status = task.StatusInProgress
	require.NoError(t, s.Create(ctx, a))

	b := task.New(0, "/movies/B.mkv", task.TypeLocal, 1, 0, 100, "/cache")
	b.Status = task.StatusInProgress
	require.NoError(t, s.Create(ctx, b))

	require.NoError(t, s.MarkProcessed(ctx, a))
	require.NoError(t, s.MarkProcessed(ctx, b))

	first, err := s.GetNextProcessed(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, a.ID, first.ID, "the task processed first must be claimed first")
}

func TestDeleteRemovesFromAllSets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := task.New(0, "/movies/A.mkv", task.TypeLocal, 1, 0, 0, "/cache")
	tk.Status = task.StatusPending
	require.NoError(t, s.Create(ctx, tk))

	require.NoError(t, s.Delete(ctx, tk.ID))

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

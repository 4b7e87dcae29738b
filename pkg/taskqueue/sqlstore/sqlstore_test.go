package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue/qfilter"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.db.Exec(`INSERT INTO libraries (id, name) VALUES (1, 'movies'), (2, 'tv')`)
	require.NoError(t, err)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := task.New(0, "/movies/A.mkv", task.TypeLocal, 1, 0, 0, "/cache")
	require.NoError(t, s.Create(ctx, tk))
	assert.NotZero(t, tk.ID)

	tk.Status = task.StatusCreating
	require.NoError(t, s.setStatus(ctx, tk, task.StatusPending))

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestGetNextPendingClaimsAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := task.New(0, "/movies/A.mkv", task.TypeLocal, 1, 0, 0, "/cache")
	require.NoError(t, s.Create(ctx, tk))
	require.NoError(t, s.setStatus(ctx, tk, task.StatusPending))

	claimed, err := s.GetNextPending(ctx, qfilter.Filter{})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, task.StatusInProgress, claimed.Status)

	again, err := s.GetNextPending(ctx, qfilter.Filter{})
	require.NoError(t, err)
	assert.Nil(t, again, "task already claimed must not be claimed twice")
}

func TestGetNextPendingFiltersByUntaggedLibraries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.db.Exec(`INSERT INTO tags (id, name) VALUES (1, 'anime')`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO library_tags (library_id, tag_id) VALUES (2, 1)`)
	require.NoError(t, err)

	tagged := task.New(0, "/tv/A.mkv", task.TypeLocal, 2, 0, 0, "/cache")
	require.NoError(t, s.Create(ctx, tagged))
	require.NoError(t, s.setStatus(ctx, tagged, task.StatusPending))

	untagged := task.New(0, "/movies/B.mkv", task.TypeLocal, 1, 0, 1, "/cache")
	require.NoError(t, s.Create(ctx, untagged))
	require.NoError(t, s.setStatus(ctx, untagged, task.StatusPending))

	claimed, err := s.GetNextPending(ctx, qfilter.Filter{}.WithTags(nil))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, untagged.ID, claimed.ID, "empty-list tag filter must match only untagged libraries")
}

func TestRequeueAtBottom(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := task.New(0, "/movies/A.mkv", task.TypeLocal, 1, 10, 0, "/cache")
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.setStatus(ctx, a, task.StatusPending))

	b := task.New(0, "/movies/B.mkv", task.TypeLocal, 1, 0, 0, "/cache")
	require.NoError(t, s.Create(ctx, b))
	require.NoError(t, s.setStatus(ctx, b, task.StatusPending))

	ok, err := s.RequeueAtBottom(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Less(t, got.Priority, b.Priority)
}

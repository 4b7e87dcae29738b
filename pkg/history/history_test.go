package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/postprocessor"
)

func TestSaveTaskHistoryAssignsSequentialIDs(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveTaskHistory(postprocessor.HistoryRecord{
		Abspath: "/media/a.mkv", TaskSuccess: true, FinishTime: time.Now(),
	}))
	require.NoError(t, s.SaveTaskHistory(postprocessor.HistoryRecord{
		Abspath: "/media/b.mkv", TaskSuccess: false, Errors: []string{"boom"},
	}))

	records, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].ID)
	assert.Equal(t, "/media/a.mkv", records[0].Abspath)
	assert.True(t, records[0].TaskSuccess)
	assert.Equal(t, uint64(2), records[1].ID)
	assert.False(t, records[1].TaskSuccess)
	assert.Equal(t, []string{"boom"}, records[1].Errors)
}

func TestListRespectsLimit(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveTaskHistory(postprocessor.HistoryRecord{Abspath: "x"}))
	}

	records, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

package workergroup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "groups.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetAllWorkerGroupsMigratesLegacyCountOnce(t *testing.T) {
	s := openTestStore(t)

	cleared := false
	groups, err := s.GetAllWorkerGroups(4, func() error { cleared = true; return nil })
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, DefaultGroupID, groups[0].ID)
	assert.Equal(t, 4, groups[0].NumberOfWorkers)
	assert.True(t, cleared)

	// Second call must not re-migrate even if legacyWorkerCount differs.
	again, err := s.GetAllWorkerGroups(99, nil)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 4, again[0].NumberOfWorkers)
}

func TestSetWorkerEventSchedulesReplacesFullSet(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Create(&Group{ID: "g1", Name: "G1"}))

	require.NoError(t, s.SetWorkerEventSchedules("g1", []ScheduleEvent{
		{Repetition: RepetitionDaily, ScheduleTime: "02:00", ScheduleTask: ScheduleTaskPause},
	}))

	g, err := s.Get("g1")
	require.NoError(t, err)
	require.Len(t, g.WorkerSchedules, 1)

	require.NoError(t, s.SetWorkerEventSchedules("g1", nil))
	g, err = s.Get("g1")
	require.NoError(t, err)
	assert.Empty(t, g.WorkerSchedules)
}

func TestDeleteRefusesLockedGroup(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Create(&Group{ID: DefaultGroupID, Locked: true}))

	err := s.Delete(DefaultGroupID)
	assert.Error(t, err)
}

func TestListSortedByID(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Create(&Group{ID: "b"}))
	require.NoError(t, s.Create(&Group{ID: "a"}))

	groups, err := s.List()
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].ID)
	assert.Equal(t, "b", groups[1].ID)
}

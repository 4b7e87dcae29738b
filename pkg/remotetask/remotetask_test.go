package remotetask

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unmanic/unmanicd/pkg/task"
)

type fakeScratch struct{}

func (fakeScratch) ExportTaskState(taskID int64) ([]byte, error) { return []byte(`{}`), nil }
func (fakeScratch) ImportTaskState(taskID int64, data []byte) error { return nil }

func TestHeartbeatRefreshesPeerStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/status", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bob", user)
		assert.Equal(t, "secret", pass)
		_ = json.NewEncoder(w).Encode(peerStatus{
			LibraryNames:   []string{"Movies"},
			AvailableSlots: 3,
		})
	}))
	defer srv.Close()

	completeCh := make(chan *task.Task, 1)
	c := New(completeCh, fakeScratch{})
	c.SetPeers([]Peer{{UUID: "peer-1", Address: srv.URL, BasicUser: "bob", BasicPass: "secret"}})

	c.Heartbeat()

	peer, ok := c.AvailableForLibrary("Movies")
	assert.True(t, ok)
	assert.Equal(t, srv.URL, peer)
	assert.Equal(t, 3, c.AvailableSlots())

	_, ok = c.AvailableForLibrary("TV Shows")
	assert.False(t, ok)
}

func TestDispatchCompletesOnSuccess(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v2/status":
			_ = json.NewEncoder(w).Encode(peerStatus{LibraryNames: []string{"Movies"}, AvailableSlots: 1})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v2/tasks/claim":
			_ = json.NewEncoder(w).Encode(remoteClaimResponse{TaskID: 99})
		case r.URL.Path == "/api/v2/tasks/99/status":
			polls++
			status := "running"
			if polls >= 2 {
				status = "completed"
			}
			_ = json.NewEncoder(w).Encode(remoteStatusResponse{Status: status})
		case r.URL.Path == "/api/v2/tasks/99/artifact":
			_, _ = w.Write([]byte("transcoded-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	completeCh := make(chan *task.Task, 1)
	c := New(completeCh, fakeScratch{})
	c.SetPeers([]Peer{{UUID: "peer-1", Address: srv.URL}})
	c.Heartbeat()

	tsk := &task.Task{ID: 1, Abspath: "/media/movie.mkv", CachePath: t.TempDir() + "/movie-out.mp4"}
	require.NoError(t, c.Dispatch(context.Background(), tsk, srv.URL))

	select {
	case got := <-completeCh:
		assert.True(t, got.Success)
		assert.Equal(t, tsk.ID, got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for remote task to complete")
	}
}

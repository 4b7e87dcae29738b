package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
)

type claimRequest struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities"`
	MaxTasks     int      `json:"max_tasks"`
}

// handleClaim implements POST /api/v2/tasks/claim (bearer, worker role).
// Per spec.md §4.H this version applies no filter beyond the queue's own
// priority order - capability-based filtering is explicitly left to a
// later protocol version. A nil task with 200 means the queue is empty.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil || req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}

	t, err := s.queue.GetNextPending(r.Context(), taskqueue.Filter{})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if t == nil {
		writeJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}

	t.ProcessedByWorker = req.WorkerID
	if err := s.queue.MarkInProgress(r.Context(), t); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"task": s.claimProjection(t)})
}

func (s *Server) claimProjection(t *task.Task) map[string]any {
	settings := map[string]any{}
	if s.libs != nil {
		if l, ok := s.libs.Get(t.LibraryID); ok {
			settings["library_name"] = l.Name
			settings["enabled_plugins"] = l.EnabledPlugins
			settings["plugin_flow"] = l.PluginFlow
		}
	}
	return map[string]any{
		"task_id":     t.ID,
		"source_file": t.Abspath,
		"cache_path":  t.CachePath,
		"settings":    settings,
	}
}

type statusRequest struct {
	WorkerID string         `json:"worker_id"`
	Status   string         `json:"status"` // processing | completed | failed
	Progress float64        `json:"progress"`
	Message  string         `json:"message"`
	Result   map[string]any `json:"result"`
}

// handleStatus implements POST /api/v2/tasks/{id}/status (bearer,
// worker role). "completed" routes the task through MarkProcessed
// rather than jumping straight to complete, so the post-processor still
// owns the cache-to-destination move, the single history write, and the
// scratch purge (spec.md §4.F) instead of duplicating that logic here.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := s.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	t.ProcessedByWorker = req.WorkerID

	switch req.Status {
	case "processing":
		// progress is transient, reported-only state; this repo doesn't
		// persist a numeric progress field on task.Task.
	case "completed":
		t.Success = true
		t.FinishTime = time.Now()
		t.Status = task.StatusProcessed
		if err := s.queue.MarkProcessed(r.Context(), t); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
	case "failed":
		t.Success = false
		t.FinishTime = time.Now()
		if req.Message != "" {
			t.Log += "\n" + req.Message
		}
		t.Status = task.StatusProcessed
		if err := s.queue.MarkProcessed(r.Context(), t); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "status must be processing, completed, or failed")
		return
	}

	writeJSON(w, http.StatusOK, nil)
}

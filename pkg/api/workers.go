package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unmanic/unmanicd/pkg/workerauth"
)

type registerRequest struct {
	Name         string   `json:"name"`
	Hostname     string   `json:"hostname"`
	Capabilities []string `json:"capabilities"`
}

// handleRegister implements POST /api/v2/workers/register. No
// authentication is required per spec.md §4.H - an operator fronting
// this with a reverse proxy is the documented mitigation.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Hostname == "" {
		writeError(w, http.StatusBadRequest, "name and hostname are required")
		return
	}
	worker, token, err := s.auth.Register(req.Name, req.Hostname, req.Capabilities)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"worker_id": worker.WorkerID,
		"name":      worker.Name,
		"token":     token,
	})
}

type issueTokenRequest struct {
	WorkerID        string `json:"worker_id"`
	ValiditySeconds int64  `json:"validity_seconds"`
}

// handleIssueToken implements POST /api/v2/workers/token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	validity := workerauth.DefaultValidity
	if req.ValiditySeconds > 0 {
		validity = time.Duration(req.ValiditySeconds) * time.Second
	}
	token, err := s.auth.IssueToken(req.WorkerID, validity)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

// handleRefreshToken implements POST /api/v2/workers/token/refresh
// (bearer required): mints a fresh token for the already-authenticated
// caller's worker id.
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	v, _ := authFromContext(r)
	token, err := s.auth.IssueToken(v.Worker.WorkerID, workerauth.DefaultValidity)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

type revokeRequest struct {
	Token string `json:"token"`
}

// handleRevokeToken implements POST /api/v2/workers/token/revoke.
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := s.auth.Revoke(req.Token); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleListWorkers implements GET /api/v2/workers/list?active_only=bool.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	workers := s.auth.List(activeOnly)
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

// handleGetWorker implements GET /api/v2/workers/{id}.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, ok := s.auth.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "worker not registered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker": worker})
}

type updateWorkerRequest struct {
	Name         *string   `json:"name"`
	Roles        *[]string `json:"roles"`
	Capabilities *[]string `json:"capabilities"`
	Active       *bool     `json:"active"`
}

// handleUpdateWorker implements PUT /api/v2/workers/{id}.
func (s *Server) handleUpdateWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	worker, err := s.auth.Update(id, func(worker *workerauth.WorkerInfo) {
		if req.Name != nil {
			worker.Name = *req.Name
		}
		if req.Roles != nil {
			worker.Roles = *req.Roles
		}
		if req.Capabilities != nil {
			worker.Capabilities = *req.Capabilities
		}
		if req.Active != nil {
			worker.Active = *req.Active
		}
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker": worker})
}

// handleDeleteWorker implements DELETE /api/v2/workers/{id}.
func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.auth.Delete(id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleVerify implements GET /api/v2/workers/verify (bearer required):
// a no-op round-trip a client uses to confirm its token still validates.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	v, _ := authFromContext(r)
	writeJSON(w, http.StatusOK, map[string]any{"worker_id": v.Worker.WorkerID, "roles": v.Roles})
}

type heartbeatRequest struct {
	WorkerID     string         `json:"worker_id"`
	Status       string         `json:"status"`
	CurrentTasks []int64        `json:"current_tasks"`
	SystemInfo   map[string]any `json:"system_info"`
}

// handleHeartbeat implements POST /api/v2/workers/heartbeat (bearer,
// worker role): updates last_seen per spec.md §4.H. current_tasks and
// system_info are accepted but not persisted - this repo tracks liveness
// only, the distributed-worker monitor (§4.I) does the rest.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil || req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	if _, err := s.auth.Heartbeat(req.WorkerID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

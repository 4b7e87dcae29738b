package workerauth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

const (
	registeredWorkersFile = "registered_workers.json"
	maxRevocations        = 10000
)

// WorkerInfo is a registered distributed worker, per spec.md §3.6.
type WorkerInfo struct {
	WorkerID     string    `json:"worker_id"`
	Name         string    `json:"name"`
	Hostname     string    `json:"hostname"`
	Roles        []string  `json:"roles"`
	Capabilities []string  `json:"capabilities"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	Active       bool      `json:"active"`
}

type onDiskState struct {
	Workers       []*WorkerInfo `json:"workers"`
	RevokedTokens []string      `json:"revoked_tokens"`
}

// registry holds registered workers and the jti revocation set, persisted
// together to registered_workers.json on every mutation.
type registry struct {
	mu       sync.RWMutex
	path     string
	workers  map[string]*WorkerInfo
	revoked  map[string]struct{}
	revOrder []string // FIFO order for capped eviction
}

func newRegistry(configDir string) (*registry, error) {
	r := &registry{
		path:    filepath.Join(configDir, registeredWorkersFile),
		workers: make(map[string]*WorkerInfo),
		revoked: make(map[string]struct{}),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *registry) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return orcherr.New(orcherr.KindTransientIO, "read registered workers", err)
	}
	var state onDiskState
	if err := json.Unmarshal(data, &state); err != nil {
		return orcherr.New(orcherr.KindUserConfig, "parse registered_workers.json", err)
	}
	for _, w := range state.Workers {
		r.workers[w.WorkerID] = w
	}
	for _, jti := range state.RevokedTokens {
		r.revoked[jti] = struct{}{}
		r.revOrder = append(r.revOrder, jti)
	}
	return nil
}

// persist must be called with r.mu held.
func (r *registry) persist() error {
	state := onDiskState{RevokedTokens: r.revOrder}
	for _, w := range r.workers {
		state.Workers = append(state.Workers, w)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return orcherr.New(orcherr.KindTransientIO, "write registered workers", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return orcherr.New(orcherr.KindTransientIO, "persist registered workers", err)
	}
	return nil
}

func (r *registry) register(name, hostname string, capabilities []string) (*WorkerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	w := &WorkerInfo{
		WorkerID:     newWorkerID(),
		Name:         name,
		Hostname:     hostname,
		Roles:        []string{string(RoleWorker)},
		Capabilities: capabilities,
		RegisteredAt: now,
		LastSeen:     now,
		Active:       true,
	}
	r.workers[w.WorkerID] = w
	if err := r.persist(); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *registry) get(workerID string) (*WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	return w, ok
}

func (r *registry) list(activeOnly bool) []*WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		if activeOnly && !w.Active {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (r *registry) update(workerID string, fn func(*WorkerInfo)) (*WorkerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return nil, orcherr.New(orcherr.KindResourceMissing, "worker not registered", nil)
	}
	fn(w)
	if err := r.persist(); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *registry) delete(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, workerID)
	return r.persist()
}

func (r *registry) touchLastSeen(workerID string) error {
	_, err := r.update(workerID, func(w *WorkerInfo) { w.LastSeen = time.Now() })
	return err
}

// revoke adds jti to the revocation set, dropping the oldest entry first
// if already at maxRevocations (FIFO-ish cap per spec.md §3.7).
func (r *registry) revoke(jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.revoked[jti]; exists {
		return nil
	}
	if len(r.revOrder) >= maxRevocations {
		oldest := r.revOrder[0]
		r.revOrder = r.revOrder[1:]
		delete(r.revoked, oldest)
	}
	r.revoked[jti] = struct{}{}
	r.revOrder = append(r.revOrder, jti)
	return r.persist()
}

func (r *registry) isRevoked(jti string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.revoked[jti]
	return ok
}

func newWorkerID() string {
	return uuid.New().String()
}

func newJTI() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

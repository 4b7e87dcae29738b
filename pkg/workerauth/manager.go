// Package workerauth implements the distributed-worker registry and
// JWT-style token issuance/validation described in spec.md §3.6-§3.7 and
// §4.H: worker registration, HS256 compact tokens, jti-based revocation,
// and last_seen tracking.
package workerauth

import (
	"time"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

// Manager is the single entry point pkg/api's worker-auth routes and
// pkg/distworker's distributed-worker monitor use.
type Manager struct {
	secret []byte
	reg    *registry
}

// New loads (or creates) the HMAC secret and worker registry under
// configDir.
func New(configDir string) (*Manager, error) {
	secret, err := loadOrCreateSecret(configDir)
	if err != nil {
		return nil, err
	}
	reg, err := newRegistry(configDir)
	if err != nil {
		return nil, err
	}
	return &Manager{secret: secret, reg: reg}, nil
}

// Register creates a new WorkerInfo and mints its initial token.
func (m *Manager) Register(name, hostname string, capabilities []string) (*WorkerInfo, string, error) {
	w, err := m.reg.register(name, hostname, capabilities)
	if err != nil {
		return nil, "", err
	}
	token, _, err := issue(m.secret, w.WorkerID, w.Roles, w.Capabilities, DefaultValidity)
	if err != nil {
		return nil, "", err
	}
	return w, token, nil
}

// IssueToken mints a fresh token for an already-registered worker.
func (m *Manager) IssueToken(workerID string, validity time.Duration) (string, error) {
	w, ok := m.reg.get(workerID)
	if !ok {
		return "", orcherr.New(orcherr.KindResourceMissing, "worker not registered", nil)
	}
	token, _, err := issue(m.secret, w.WorkerID, w.Roles, w.Capabilities, validity)
	return token, err
}

// Validated is the result of a successful Validate call.
type Validated struct {
	Worker *WorkerInfo
	JTI    string
	Roles  []string
}

// Validate implements spec.md §4.H's exact check order: parse, HMAC
// verify, decode payload, jti not revoked, exp > now, worker exists and
// is active, then touch last_seen.
func (m *Manager) Validate(token string) (*Validated, error) {
	c, err := verify(m.secret, token)
	if err != nil {
		return nil, orcherr.New(orcherr.KindAuth, "invalid", err)
	}
	if m.reg.isRevoked(c.JTI) {
		return nil, orcherr.New(orcherr.KindAuth, "invalid", nil)
	}
	if !time.Now().Before(c.ExpiresAt) {
		return nil, orcherr.New(orcherr.KindAuth, "expired", nil)
	}
	w, ok := m.reg.get(c.WorkerID)
	if !ok || !w.Active {
		return nil, orcherr.New(orcherr.KindAuth, "worker not registered", nil)
	}
	if err := m.reg.touchLastSeen(c.WorkerID); err != nil {
		return nil, err
	}
	return &Validated{Worker: w, JTI: c.JTI, Roles: c.Roles}, nil
}

// Revoke adds the token's jti to the revocation set without needing to
// re-derive the worker (POST /api/v2/workers/token/revoke accepts a bare
// token, not a worker id).
func (m *Manager) Revoke(token string) error {
	c, err := verify(m.secret, token)
	if err != nil {
		return orcherr.New(orcherr.KindAuth, "invalid", err)
	}
	return m.reg.revoke(c.JTI)
}

// HasRole reports whether roles intersects required.
func HasRole(roles []string, required ...Role) bool {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[string(req)]; ok {
			return true
		}
	}
	return false
}

func (m *Manager) Get(workerID string) (*WorkerInfo, bool) { return m.reg.get(workerID) }

func (m *Manager) List(activeOnly bool) []*WorkerInfo { return m.reg.list(activeOnly) }

func (m *Manager) Update(workerID string, fn func(*WorkerInfo)) (*WorkerInfo, error) {
	return m.reg.update(workerID, fn)
}

func (m *Manager) Delete(workerID string) error { return m.reg.delete(workerID) }

// Heartbeat updates last_seen and status-relevant fields for workerID,
// called from POST /api/v2/workers/heartbeat.
func (m *Manager) Heartbeat(workerID string) (*WorkerInfo, error) {
	return m.reg.update(workerID, func(w *WorkerInfo) { w.LastSeen = time.Now() })
}

// ReapStale marks any worker whose last_seen exceeds timeout as inactive,
// returning the ids that transitioned. Called by the distributed-worker
// monitor every 60 s per spec.md §4.I.
func (m *Manager) ReapStale(timeout time.Duration) []string {
	var reaped []string
	cutoff := time.Now().Add(-timeout)
	for _, w := range m.reg.list(false) {
		if w.Active && w.LastSeen.Before(cutoff) {
			if _, err := m.reg.update(w.WorkerID, func(w *WorkerInfo) { w.Active = false }); err == nil {
				reaped = append(reaped, w.WorkerID)
			}
		}
	}
	return reaped
}

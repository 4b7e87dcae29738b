// Package remotetask implements spec.md §4.G: per-claim short-lived
// Remote-Task-Managers that hand a task to a federated peer installation
// over its distributed-worker REST API, and the Links-subsystem index of
// which peers currently advertise free slots that pkg/foreman's step 6/8
// consult. Peers are reached with a plain stdlib net/http client on a
// configured timeout, no RPC framework, since the distributed-worker
// protocol this repo federates over is the REST API pkg/api exposes.
package remotetask

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unmanic/unmanicd/pkg/log"
	"github.com/unmanic/unmanicd/pkg/task"
)

// idleManagerTimeout bounds how long pollUntilTerminal keeps polling
// without a non-terminal status response from the peer; the timer
// restarts on every such response.
const idleManagerTimeout = 10 * time.Second

// pollInterval is how often a manager polls the peer for task status.
const pollInterval = 2 * time.Second

// peerStaleAfter drops a peer's advertised slot count from the index if
// it hasn't refreshed in this long, spec.md §4.E.6.
const peerStaleAfter = 30 * time.Second

// Peer is one federated installation this repository can dispatch to.
type Peer struct {
	UUID        string
	Address     string // base URL, e.g. "https://peer.example.com"
	BasicUser   string
	BasicPass   string
	BearerToken string
}

func (p Peer) authenticate(req *http.Request) {
	if p.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.BearerToken)
		return
	}
	if p.BasicUser != "" {
		req.SetBasicAuth(p.BasicUser, p.BasicPass)
	}
}

// scratchExporter is the subset of task.ScratchStore remote dispatch
// needs to carry task state across the wire.
type scratchExporter interface {
	ExportTaskState(taskID int64) ([]byte, error)
	ImportTaskState(taskID int64, data []byte) error
}

// peerStatus is one peer's free-slot advertisement, as reported by its
// GET /api/v2/status endpoint.
type peerStatus struct {
	LibraryNames   []string `json:"library_names"`
	AvailableSlots int      `json:"available_slots"`
}

type peerState struct {
	peer       Peer
	slots      int
	libraries  map[string]bool
	lastSeenAt time.Time
}

// Coordinator is the Links subsystem plus the Remote-Task-Manager
// spawner; it satisfies pkg/foreman.RemoteCoordinator.
type Coordinator struct {
	client     *http.Client
	completeCh chan<- *task.Task
	scratch    scratchExporter

	mu      sync.Mutex
	peers   map[string]Peer
	status  map[string]*peerState
	active  map[int64]context.CancelFunc

	logger zerolog.Logger
}

// New constructs a Coordinator. completeCh is the same shared channel
// pkg/foreman's local workers publish finished tasks onto.
func New(completeCh chan<- *task.Task, scratch scratchExporter) *Coordinator {
	return &Coordinator{
		client:     &http.Client{Timeout: 30 * time.Second},
		completeCh: completeCh,
		scratch:    scratch,
		peers:      make(map[string]Peer),
		status:     make(map[string]*peerState),
		active:     make(map[int64]context.CancelFunc),
		logger:     log.WithComponent("remotetask"),
	}
}

// SetPeers replaces the configured peer set. On the next Heartbeat a peer
// missing from this set loses its status entry, so it is no longer
// offered for dispatch; manager goroutines already dispatched to it are
// not cancelled.
func (c *Coordinator) SetPeers(peers []Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = make(map[string]Peer, len(peers))
	for _, p := range peers {
		c.peers[p.UUID] = p
	}
}

// Heartbeat implements spec.md §4.E.6: drop stale and removed peers'
// status entries, then refresh every configured peer's advertised
// free-slot count.
func (c *Coordinator) Heartbeat() {
	c.mu.Lock()
	for uuid := range c.status {
		if _, ok := c.peers[uuid]; !ok {
			delete(c.status, uuid)
		}
	}
	peers := make([]Peer, 0, len(c.peers))
	for uuid, p := range c.peers {
		if st, ok := c.status[uuid]; ok && time.Since(st.lastSeenAt) > peerStaleAfter {
			delete(c.status, uuid)
		}
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		c.refreshPeerStatus(p)
	}
}

func (c *Coordinator) refreshPeerStatus(p Peer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Address+"/api/v2/status", nil)
	if err != nil {
		return
	}
	p.authenticate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("peer", p.UUID).Msg("peer status refresh failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var st peerStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return
	}

	libs := make(map[string]bool, len(st.LibraryNames))
	for _, name := range st.LibraryNames {
		libs[name] = true
	}

	c.mu.Lock()
	c.status[p.UUID] = &peerState{peer: p, slots: st.AvailableSlots, libraries: libs, lastSeenAt: time.Now()}
	c.mu.Unlock()
}

// AvailableForLibrary implements pkg/foreman.RemoteCoordinator.
func (c *Coordinator) AvailableForLibrary(libraryName string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.status {
		if st.slots > 0 && st.libraries[libraryName] {
			return st.peer.Address, true
		}
	}
	return "", false
}

// AvailableSlots implements pkg/foreman.RemoteCoordinator.
func (c *Coordinator) AvailableSlots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, st := range c.status {
		total += st.slots
	}
	return total
}

// ActiveManagers implements pkg/foreman.RemoteCoordinator.
func (c *Coordinator) ActiveManagers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Coordinator) peerByAddress(address string) (Peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.status {
		if st.peer.Address == address {
			return st.peer, true
		}
	}
	return Peer{}, false
}

// Dispatch implements pkg/foreman.RemoteCoordinator: spawns a short-lived
// manager goroutine for t against peerAddress.
func (c *Coordinator) Dispatch(ctx context.Context, t *task.Task, peerAddress string) error {
	peer, ok := c.peerByAddress(peerAddress)
	if !ok {
		return fmt.Errorf("remotetask: peer %s not known", peerAddress)
	}

	mgrCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.active[t.ID] = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.active, t.ID)
			c.mu.Unlock()
			cancel()
		}()
		c.run(mgrCtx, t, peer)
	}()
	return nil
}

// remoteClaimResponse is the peer's POST /api/v2/tasks/claim projection.
type remoteClaimResponse struct {
	TaskID int64 `json:"task_id"`
}

type remoteStatusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// run is the body of one Remote-Task-Manager: post the task, poll until
// terminal, pull the artifact, publish to the shared complete channel.
func (c *Coordinator) run(ctx context.Context, t *task.Task, peer Peer) {
	logger := c.logger.With().Int64("task_id", t.ID).Str("peer", peer.UUID).Logger()

	scratchData, err := c.scratch.ExportTaskState(t.ID)
	if err != nil {
		logger.Error().Err(err).Msg("export scratch state failed")
		return
	}

	body := map[string]any{
		"source_file": t.Abspath,
		"task_id":     t.ID,
		"library_id":  t.LibraryID,
		"scratch":     json.RawMessage(scratchData),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		logger.Error().Err(err).Msg("marshal dispatch payload failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.Address+"/api/v2/tasks/claim", bytes.NewReader(payload))
	if err != nil {
		logger.Error().Err(err).Msg("build claim request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	peer.authenticate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("claim request failed")
		return
	}
	var claimed remoteClaimResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&claimed)
	resp.Body.Close()
	if decodeErr != nil {
		logger.Error().Err(decodeErr).Msg("decode claim response failed")
		return
	}

	if !c.pollUntilTerminal(ctx, peer, claimed.TaskID, &logger) {
		t.Success = false
		c.completeCh <- t
		return
	}

	if err := c.fetchArtifact(ctx, peer, claimed.TaskID, t.CachePath); err != nil {
		logger.Error().Err(err).Msg("fetch artifact failed")
		t.Success = false
		c.completeCh <- t
		return
	}

	t.Success = true
	c.completeCh <- t
}

// pollUntilTerminal polls the peer for status until completed/failed or
// ctx is done, returning true on "completed".
func (c *Coordinator) pollUntilTerminal(ctx context.Context, peer Peer, remoteTaskID int64, logger *zerolog.Logger) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	idleTimer := time.NewTimer(idleManagerTimeout)
	defer idleTimer.Stop()

	url := fmt.Sprintf("%s/api/v2/tasks/%d/status", peer.Address, remoteTaskID)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-idleTimer.C:
			logger.Warn().Msg("remote task manager idle timeout")
			return false
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return false
			}
			peer.authenticate(req)
			resp, err := c.client.Do(req)
			if err != nil {
				logger.Warn().Err(err).Msg("poll status failed")
				continue
			}
			var st remoteStatusResponse
			err = json.NewDecoder(resp.Body).Decode(&st)
			resp.Body.Close()
			if err != nil {
				continue
			}
			switch st.Status {
			case "completed":
				return true
			case "failed":
				return false
			default:
				idleTimer.Reset(idleManagerTimeout)
			}
		}
	}
}

// fetchArtifact downloads the transcoded artifact into the local cache
// path.
func (c *Coordinator) fetchArtifact(ctx context.Context, peer Peer, remoteTaskID int64, cachePath string) error {
	url := fmt.Sprintf("%s/api/v2/tasks/%d/artifact", peer.Address, remoteTaskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	peer.authenticate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remotetask: artifact fetch returned %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(cachePath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

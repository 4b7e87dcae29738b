package foreman

import "time"

// linkHeartbeat implements step 6: at the configured cadence, ask the
// remote coordinator to reap dead Remote-Task-Manager threads and
// refresh its available-peers index. A nil RemoteCoordinator means this
// installation has no federation configured.
func (f *Foreman) linkHeartbeat() {
	if f.remote == nil {
		return
	}

	f.mu.Lock()
	due := time.Since(f.lastLinkBeat) >= linkHeartbeatInterval
	if due {
		f.lastLinkBeat = time.Now()
	}
	f.mu.Unlock()

	if !due {
		return
	}
	f.remote.Heartbeat()
}

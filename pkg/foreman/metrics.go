package foreman

// recordMetrics implements step 3: report every worker's current state
// to the external metric sink.
func (f *Foreman) recordMetrics() {
	if f.metrics == nil {
		return
	}
	f.mu.Lock()
	type snapshot struct {
		groupID, workerID string
		idle, paused      bool
	}
	snapshots := make([]snapshot, 0, len(f.workers))
	for id, w := range f.workers {
		snapshots = append(snapshots, snapshot{
			groupID:  f.groupOf[id],
			workerID: id,
			idle:     w.Idle(),
			paused:   w.Paused(),
		})
	}
	f.mu.Unlock()

	for _, s := range snapshots {
		f.metrics.RecordWorkerStatus(s.groupID, s.workerID, s.idle, s.paused)
	}
}

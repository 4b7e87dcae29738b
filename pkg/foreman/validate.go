package foreman

import (
	"strings"

	"github.com/unmanic/unmanicd/pkg/pushmsg"
)

// Validator checks the license-gated conditions spec.md §4.E.4 lists
// that this repository has no concrete model for (incompatible plugin
// combinations, link-count and library-count license ceilings). It
// returns ok=false and a human-readable reason to trip the same
// pause-all path the plugin-flow-hash check uses. A nil Validator (the
// default) always reports ok.
type Validator func() (ok bool, reason string)

// configHash aggregates every library's PluginFlowHash into one value so
// a single comparison catches a change to any library's plugin flow.
func (f *Foreman) configHash() string {
	libs, err := f.libraries.List()
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for _, l := range libs {
		sb.WriteString(l.PluginFlowHash())
		sb.WriteByte('|')
	}
	return sb.String()
}

// validateConfig implements step 4: if config has drifted (or an
// external Validator reports a license/compatibility violation), pause
// every currently-unpaused worker and record exactly which ones this
// check paused, so a later tick that finds validation passing again
// resumes only those. The baseline hash is taken on the first pass and
// kept, so drift persists until the plugin flows hash to the baseline
// again.
func (f *Foreman) validateConfig() {
	hash := f.configHash()

	f.mu.Lock()
	driftDetected := f.configHashSeen && hash != f.lastConfigHash
	if !f.configHashSeen {
		f.lastConfigHash = hash
		f.configHashSeen = true
	}
	wasInvalid := !f.validationOK
	f.mu.Unlock()

	valid := !driftDetected
	if f.extraValidator != nil {
		if ok, _ := f.extraValidator(); !ok {
			valid = false
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !valid {
		f.validationOK = false
		for id, w := range f.workers {
			if !w.Paused() {
				w.Pause()
				f.pausedByDrift[id] = true
			}
		}
		if f.pushBus != nil {
			_ = f.pushBus.Add(pushmsg.Message{
				ID:      pushmsg.IDPluginSettingsChangeWorkersStopped,
				Type:    pushmsg.TypeWarning,
				Code:    "config_drift",
				Message: "worker threads paused: plugin settings changed",
				Timeout: 0,
			})
		}
		return
	}

	f.validationOK = true
	if wasInvalid {
		for id := range f.pausedByDrift {
			if w, ok := f.workers[id]; ok {
				w.Resume()
			}
			delete(f.pausedByDrift, id)
		}
		if f.pushBus != nil {
			f.pushBus.Remove(pushmsg.IDPluginSettingsChangeWorkersStopped)
		}
	}
}

// Package worker is the local Worker type of spec.md §3.3/§4.C: each
// instance is bound to one worker group, pulls at most one task at a
// time from its personal handoff slot, and drives that task through GPU
// allocation, pre/post integrity checks, and a plugin-driven transcode
// pipeline before reporting it complete.
//
// A process hosts one Worker per configured thread. The Foreman (see
// pkg/foreman) owns the HandoffSlot/complete-channel wiring and the
// decision of when a worker should be paused, resumed, or retired as
// redundant.
package worker

// Package foreman implements spec.md §4.E: the scheduler thread that
// reconciles worker-group configuration into live worker threads,
// validates configuration for drift, runs due schedule events, and
// matches pending tasks to idle local workers or, failing that, to a
// RemoteCoordinator-managed peer installation.
package foreman

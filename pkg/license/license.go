// Package license hosts the within_library_count_limits hook from
// spec.md §9 / SPEC_FULL.md §3. The original project gates library count
// on a support tier this repo has no account system for; the hook is kept
// rather than removed so call sites in pkg/library don't need a
// conditional, and it always returns true here.
package license

// WithinLibraryCountLimits reports whether the installation is allowed to
// add another library. Always true: there is no tiered-account system in
// this repo to enforce a limit against.
func WithinLibraryCountLimits(currentLibraryCount int) bool {
	return true
}

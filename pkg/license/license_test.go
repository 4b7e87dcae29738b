package license

import "testing"

func TestWithinLibraryCountLimitsAlwaysTrue(t *testing.T) {
	if !WithinLibraryCountLimits(0) {
		t.Fatal("expected true for zero libraries")
	}
	if !WithinLibraryCountLimits(9999) {
		t.Fatal("expected true regardless of library count")
	}
}

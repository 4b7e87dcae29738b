package task

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusCreating, StatusPending, true},
		{StatusPending, StatusInProgress, true},
		{StatusInProgress, StatusProcessed, true},
		{StatusProcessed, StatusComplete, true},
		{StatusPending, StatusProcessed, false},
		{StatusCreating, StatusInProgress, false},
		{StatusComplete, StatusPending, false},
	}
	for _, c := range cases {
		err := ValidateTransition(c.from, c.to)
		if c.ok {
			assert.NoError(t, err, "%s -> %s", c.from, c.to)
		} else {
			assert.Error(t, err, "%s -> %s", c.from, c.to)
		}
	}
}

func TestNewCachePathShape(t *testing.T) {
	tk := New(42, "/library/movies/A.mkv", TypeLocal, 1, 0, 0, "/cache")
	require.True(t, strings.HasPrefix(tk.CachePath, "/cache/unmanic_file_conversion-"))
	require.True(t, strings.HasSuffix(tk.CachePath, ".mkv"))
	assert.Equal(t, int64(42), tk.Priority)
}

func TestSetCachePathPreservesSuffixAcrossManyUpdates(t *testing.T) {
	tk := New(1, "/library/A.mkv", TypeLocal, 1, 0, 0, "/cache")
	original := tk.CachePath

	// Regression test for the cache-path mismatch bug: repeated extension
	// updates must never regenerate the random+time suffix.
	p1 := SetCachePath(original, "/cache", tk.Abspath, ".tmp.mp4")
	p2 := SetCachePath(p1, "/cache", tk.Abspath, "mp4")

	origStem := strings.TrimSuffix(original, ".mkv")
	assert.True(t, strings.HasPrefix(p2, origStem))
	assert.True(t, strings.HasSuffix(p2, ".mp4"))
}

func TestSetCachePathFreshWhenEmpty(t *testing.T) {
	p := SetCachePath("", "/cache", "/library/B.mkv", ".mp4")
	assert.True(t, strings.HasPrefix(p, "/cache/unmanic_file_conversion-"))
}

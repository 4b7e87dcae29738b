package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoFilePath(t *testing.T) {
	got := InfoFilePath("/media/movies", "Movie.mkv")
	assert.Equal(t, filepath.Join("/media/movies", "Movie.mkv.unmanic.info"), got)
}

func TestOldestOriginalNameMissingFile(t *testing.T) {
	name, err := OldestOriginalName(filepath.Join(t.TempDir(), "absent.unmanic.info"))
	require.NoError(t, err)
	assert.Equal(t, "", name)
}

func TestAppendRenameAndOldestOriginalName(t *testing.T) {
	infoPath := filepath.Join(t.TempDir(), "Movie.mkv.unmanic.info")

	require.NoError(t, AppendRename(infoPath, "Movie.mp4", "Movie.mkv"))
	name, err := OldestOriginalName(infoPath)
	require.NoError(t, err)
	assert.Equal(t, "Movie.mkv", name, "the first record in the chain names the oldest original")

	// A later rename in the same chain must not disturb the oldest name.
	require.NoError(t, AppendRename(infoPath, "Movie.final.mp4", "Movie.mp4"))
	name, err = OldestOriginalName(infoPath)
	require.NoError(t, err)
	assert.Equal(t, "Movie.mkv", name)

	contents, err := os.ReadFile(infoPath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), `Movie.mp4="Movie.mkv"`)
	assert.Contains(t, string(contents), `Movie.final.mp4="Movie.mp4"`)
}

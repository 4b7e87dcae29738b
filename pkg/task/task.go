// Package task defines the canonical Task entity, its lifecycle state
// machine, and the process-wide scratch-data store plugins use to stash
// per-task working state.
package task

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

// Type records where a task was created, not where it ultimately runs.
type Type string

const (
	TypeLocal  Type = "local"
	TypeRemote Type = "remote"
)

// Status is the task lifecycle state. Status is linear: creating -> pending
// -> in_progress -> processed -> complete. Any other transition is invalid.
type Status string

const (
	StatusCreating   Status = "creating"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusProcessed  Status = "processed"
	StatusComplete   Status = "complete"
)

// legalPredecessor maps a target status to the one status it may follow.
var legalPredecessor = map[Status]Status{
	StatusPending:    StatusCreating,
	StatusInProgress: StatusPending,
	StatusProcessed:  StatusInProgress,
	StatusComplete:   StatusProcessed,
}

// ValidateTransition reports an error unless from -> to is one of the four
// legal linear transitions in the lifecycle.
func ValidateTransition(from, to Status) error {
	want, ok := legalPredecessor[to]
	if !ok {
		return orcherr.New(orcherr.KindUserConfig, fmt.Sprintf("no task may transition to status %q", to), nil)
	}
	if from != want {
		return orcherr.New(orcherr.KindUserConfig, fmt.Sprintf("invalid status transition %q -> %q", from, to), nil)
	}
	return nil
}

// Task represents one unit of work against one source file.
type Task struct {
	ID                int64
	Abspath           string
	LibraryID         int64
	Type              Type
	Status            Status
	Priority          int64
	CachePath         string
	Success           bool
	StartTime         time.Time
	FinishTime        time.Time
	ProcessedByWorker string
	Log               string
}

// New assembles a Task in status "creating" with its priority and cache
// path already computed. id must be assigned by the store before New is
// called (priority is seeded from it), matching the "priority initialized
// to id + library_priority_score + offset" rule.
func New(id int64, abspath string, typ Type, libraryID int64, libraryPriorityScore, priorityOffset int64, cacheDir string) *Task {
	t := &Task{
		ID:        id,
		Abspath:   abspath,
		LibraryID: libraryID,
		Type:      typ,
		Status:    StatusCreating,
		Priority:  id + libraryPriorityScore + priorityOffset,
	}
	t.CachePath = newCachePath(cacheDir, abspath)
	return t
}

// newCachePath builds the "<cache>/unmanic_file_conversion-<random>-
// <unixtime>/<basename>-<same-random>-<unixtime>.<ext>" path, freezing the
// random+time suffix for the lifetime of the task.
func newCachePath(cacheDir, abspath string) string {
	suffix := fmt.Sprintf("%08x-%d", rand.Uint32(), time.Now().Unix())
	base := filepath.Base(abspath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	dir := filepath.Join(cacheDir, "unmanic_file_conversion-"+suffix)
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, suffix, ext))
}

// SetCachePath applies the cache-path rule: if the task already has a
// cache path and only a new extension is supplied, the existing filename
// stem (which carries the random+time suffix) is kept and only the
// extension changes. A fresh stem is only created when cur is empty.
// Regenerating the suffix on every extension update is the exact bug this
// function exists to avoid - the post-processor matches cache files by
// that frozen suffix.
func SetCachePath(cur, cacheDir, abspath, newExt string) string {
	if cur == "" {
		return newCachePath(cacheDir, abspath)
	}
	ext := filepath.Ext(cur)
	stem := strings.TrimSuffix(cur, ext)
	if !strings.HasPrefix(newExt, ".") {
		newExt = "." + newExt
	}
	return stem + newExt
}

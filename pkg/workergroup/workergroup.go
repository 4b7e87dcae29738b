// Package workergroup is the configuration-only worker-group store per
// spec.md §3.4/§4.D. A Store holds no goroutines of its own - the Foreman
// reconciles actual worker threads against whatever Store.List returns.
// Persistence follows a bucket-per-entity JSON-in-bbolt pattern: one
// bucket holding a JSON-encoded record per worker group, keyed by id.
package workergroup

import (
	"encoding/json"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/unmanic/unmanicd/pkg/orcherr"
)

var bucketGroups = []byte("worker_groups")

const DefaultGroupID = "default"

// Repetition is a schedule event's day-of-week selector.
type Repetition string

const (
	RepetitionDaily   Repetition = "daily"
	RepetitionWeekday Repetition = "weekday"
	RepetitionWeekend Repetition = "weekend"
	RepetitionMonday  Repetition = "monday"
	RepetitionTuesday Repetition = "tuesday"
	RepetitionWednesday Repetition = "wednesday"
	RepetitionThursday  Repetition = "thursday"
	RepetitionFriday    Repetition = "friday"
	RepetitionSaturday  Repetition = "saturday"
	RepetitionSunday    Repetition = "sunday"
)

// ScheduleTask is the action a schedule event applies.
type ScheduleTask string

const (
	ScheduleTaskPause  ScheduleTask = "pause"
	ScheduleTaskResume ScheduleTask = "resume"
	ScheduleTaskCount  ScheduleTask = "count"
)

// ScheduleEvent fires a ScheduleTask at ScheduleTime on days matching
// Repetition.
type ScheduleEvent struct {
	Repetition          Repetition   `json:"repetition"`
	ScheduleTime        string       `json:"schedule_time"` // "HH:MM"
	ScheduleTask        ScheduleTask `json:"schedule_task"`
	ScheduleWorkerCount int          `json:"schedule_worker_count,omitempty"`
}

// Group holds worker-group configuration only.
type Group struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Locked          bool            `json:"locked"`
	NumberOfWorkers int             `json:"number_of_workers"`
	Tags            []string        `json:"tags"`
	WorkerSchedules []ScheduleEvent `json:"worker_schedules"`
}

// Store persists worker groups in bbolt, one JSON value per group keyed by
// its id.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the worker-group bucket in the bbolt
// database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("workergroup: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketGroups)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("workergroup: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) put(g *Group) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(g)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketGroups).Put([]byte(g.ID), data)
	})
}

// Get returns a single group by id.
func (s *Store) Get(id string) (*Group, error) {
	var g *Group
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGroups).Get([]byte(id))
		if data == nil {
			return nil
		}
		g = &Group{}
		return json.Unmarshal(data, g)
	})
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, orcherr.New(orcherr.KindResourceMissing, fmt.Sprintf("worker group %q not found", id), nil)
	}
	return g, nil
}

// List returns every group, sorted by id for deterministic iteration
// (the Foreman's per-tick reconcile relies on a stable order).
func (s *Store) List() ([]*Group, error) {
	var out []*Group
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroups).ForEach(func(k, v []byte) error {
			var g Group
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			out = append(out, &g)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAllWorkerGroups mirrors spec.md's get_all_worker_groups() entry
// point; it runs the legacy-scalar-migration exactly once, on first call
// when the store has no groups yet.
func (s *Store) GetAllWorkerGroups(legacyWorkerCount int, clearLegacy func() error) ([]*Group, error) {
	groups, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(groups) > 0 {
		return groups, nil
	}

	g := &Group{
		ID:              DefaultGroupID,
		Name:            "Default",
		Locked:          true,
		NumberOfWorkers: legacyWorkerCount,
	}
	if err := s.put(g); err != nil {
		return nil, err
	}
	if clearLegacy != nil {
		if err := clearLegacy(); err != nil {
			return nil, err
		}
	}
	return []*Group{g}, nil
}

// Create stores g under its id, replacing any group already stored with
// that id. No id is reserved, the default group's included.
func (s *Store) Create(g *Group) error {
	return s.put(g)
}

// Delete removes a group by id; the default group cannot be deleted.
func (s *Store) Delete(id string) error {
	g, err := s.Get(id)
	if err != nil {
		return err
	}
	if g.Locked {
		return orcherr.New(orcherr.KindUserConfig, "cannot delete a locked worker group", nil)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroups).Delete([]byte(id))
	})
}

// SetWorkerEventSchedules replaces id's full schedule-event set in one
// transaction, per spec.md §4.D.
func (s *Store) SetWorkerEventSchedules(id string, events []ScheduleEvent) error {
	g, err := s.Get(id)
	if err != nil {
		return err
	}
	g.WorkerSchedules = events
	return s.put(g)
}

// SetWorkerCount updates id's number_of_workers, used by schedule-event
// "count" actions and by manual operator changes.
func (s *Store) SetWorkerCount(id string, count int) error {
	g, err := s.Get(id)
	if err != nil {
		return err
	}
	g.NumberOfWorkers = count
	return s.put(g)
}

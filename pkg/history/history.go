// Package history implements the "history sink" external collaborator
// named in spec.md §6.5 - save_task_history({task_label, abspath,
// task_success, start_time, finish_time, processed_by_worker, errors,
// log}) - as a concrete bbolt-backed store, the same promotion
// SPEC_FULL.md applies to the Library subsystem: the post-processor's
// exactly-once-per-task invariant (spec.md §4.F) needs a real sink to be
// testable end to end rather than a stub. Storage follows the same
// bucket-per-entity JSON pattern as pkg/library and pkg/workergroup,
// keyed by bbolt's auto-incrementing NextSequence instead of a caller-
// supplied id since history records have no external identity.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/unmanic/unmanicd/pkg/postprocessor"
)

var bucketRecords = []byte("task_history")

// Record is the persisted shape of postprocessor.HistoryRecord plus a
// store-assigned id and write timestamp.
type Record struct {
	ID                uint64    `json:"id"`
	TaskLabel         string    `json:"task_label"`
	Abspath           string    `json:"abspath"`
	TaskSuccess       bool      `json:"task_success"`
	StartTime         time.Time `json:"start_time"`
	FinishTime        time.Time `json:"finish_time"`
	ProcessedByWorker string    `json:"processed_by_worker"`
	Errors            []string  `json:"errors"`
	Log               string    `json:"log"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// Store persists task history records in bbolt. It satisfies
// pkg/postprocessor.HistorySink by structural typing.
type Store struct {
	db *bolt.DB
}

// Open creates (or reuses) a bbolt database at path and ensures the
// history bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func idKey(id uint64) []byte { return []byte(fmt.Sprintf("%020d", id)) }

// SaveTaskHistory implements pkg/postprocessor.HistorySink: it assigns
// the record the bucket's next sequence number and persists it.
func (s *Store) SaveTaskHistory(record postprocessor.HistoryRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec := Record{
			ID:                seq,
			TaskLabel:         record.TaskLabel,
			Abspath:           record.Abspath,
			TaskSuccess:       record.TaskSuccess,
			StartTime:         record.StartTime,
			FinishTime:        record.FinishTime,
			ProcessedByWorker: record.ProcessedByWorker,
			Errors:            record.Errors,
			Log:               record.Log,
			RecordedAt:        time.Now(),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(idKey(seq), data)
	})
}

// List returns stored records, oldest first; when limit > 0 it returns at
// most limit records.
func (s *Store) List(limit int) ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

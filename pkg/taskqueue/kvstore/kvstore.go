// Package kvstore is the Redis-backed pkg/taskqueue backend. Each status
// is a priority-ordered sorted set (ZADD score = task priority) plus a
// per-task hash holding the serialized task fields. The unfiltered claim
// runs as a single redis.Script EVAL so the pop-from-pending/push-to-
// in_progress/hash-update sequence is a true Lua-atomic primitive; no other
// claimer can observe a task between those three steps.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue/qfilter"
	"github.com/unmanic/unmanicd/pkg/taskqueue/sqlstore"
)

const (
	keyPending    = "unmanic:tasks:pending"
	keyInProgress = "unmanic:tasks:in_progress"
	keyProcessed  = "unmanic:tasks:processed"
	keyTaskHash   = "unmanic:task:"
	keyNextID     = "unmanic:tasks:next_id"

	// keyProcessedSeq is a monotonic counter scoring the processed set so
	// GetNextProcessed claims in finish order rather than reusing task
	// priority, which has no relationship to when a task actually finished.
	keyProcessedSeq = "unmanic:tasks:processed_seq"

	// filteredClaimPeekLimit bounds how many pending candidates a filtered
	// claim inspects before giving up for this tick; the Foreman retries
	// every ~2s so an unfilled filter isn't starvation, just deferral.
	filteredClaimPeekLimit = 100
)

// claimScript pops the highest-priority member of KEYS[1] (pending), and
// unless it is empty, moves it into KEYS[2] (in_progress) with the same
// score and stamps ARGV[1] (now, formatted with timeLayout) into the task
// hash.
var claimScript = redis.NewScript(`
local popped = redis.call('ZPOPMAX', KEYS[1])
if #popped == 0 then
	return false
end
local id = popped[1]
local score = popped[2]
redis.call('ZADD', KEYS[2], score, id)
redis.call('HSET', KEYS[3] .. id, 'status', 'in_progress', 'start_time', ARGV[1])
return id
`)

// Config is the Redis connection configuration plus an optional relational
// library store for filtered-claim hybrid mode.
type Config struct {
	Addr     string
	Password string
	DB       int
	Library  *sqlstore.Store
}

// Store is the Redis taskqueue backend. It satisfies pkg/taskqueue.Interface
// by structural typing.
type Store struct {
	rdb     *redis.Client
	library *sqlstore.Store
}

// Open connects to Redis. It does not itself manage library metadata;
// library name/tag lookups for filtered claims are delegated to cfg.Library
// when non-nil (hybrid mode), since Redis has no natural join primitive.
func Open(cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{rdb: rdb, library: cfg.Library}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

type wireTask struct {
	ID                int64  `json:"id"`
	Abspath           string `json:"abspath"`
	LibraryID         int64  `json:"library_id"`
	Type              string `json:"type"`
	Status            string `json:"status"`
	Priority          int64  `json:"priority"`
	CachePath         string `json:"cache_path"`
	Success           bool   `json:"success"`
	StartTime         string `json:"start_time"`
	FinishTime        string `json:"finish_time"`
	ProcessedByWorker string `json:"processed_by_worker"`
	Log               string `json:"log"`
}

func toWire(t *task.Task) wireTask {
	return wireTask{
		ID: t.ID, Abspath: t.Abspath, LibraryID: t.LibraryID,
		Type: string(t.Type), Status: string(t.Status), Priority: t.Priority,
		CachePath: t.CachePath, Success: t.Success,
		StartTime: t.StartTime.Format(timeLayout), FinishTime: t.FinishTime.Format(timeLayout),
		ProcessedByWorker: t.ProcessedByWorker, Log: t.Log,
	}
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) Create(ctx context.Context, t *task.Task) error {
	id, err := s.rdb.Incr(ctx, keyNextID).Result()
	if err != nil {
		return fmt.Errorf("kvstore: create: allocate id: %w", err)
	}
	t.ID = id

	w := toWire(t)
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, keyTaskHash+strconv.FormatInt(id, 10), "json", data)
	pipe.ZAdd(ctx, statusKey(t.Status), redis.Z{Score: float64(t.Priority), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kvstore: create: %w", err)
	}
	return nil
}

func statusKey(status task.Status) string {
	switch status {
	case task.StatusPending:
		return keyPending
	case task.StatusInProgress:
		return keyInProgress
	case task.StatusProcessed:
		return keyProcessed
	default:
		return ""
	}
}

// saveTask rewrites the hash's json blob from t, the single field loadTask
// consults. Every mutator that changes a task's fields must call this -
// the scalar status/start_time hash fields a couple of Lua scripts also
// write are unread leftovers from an earlier layout and exist only for
// redis-cli introspection.
func (s *Store) saveTask(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(toWire(t))
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, keyTaskHash+strconv.FormatInt(t.ID, 10), "json", data).Err()
}

func (s *Store) loadTask(ctx context.Context, id int64) (*task.Task, error) {
	data, err := s.rdb.HGet(ctx, keyTaskHash+strconv.FormatInt(id, 10), "json").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var w wireTask
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, err
	}
	return fromWire(w), nil
}

func fromWire(w wireTask) *task.Task {
	t := &task.Task{
		ID: w.ID, Abspath: w.Abspath, LibraryID: w.LibraryID,
		Type: task.Type(w.Type), Status: task.Status(w.Status), Priority: w.Priority,
		CachePath: w.CachePath, Success: w.Success,
		ProcessedByWorker: w.ProcessedByWorker, Log: w.Log,
	}
	if parsed, err := time.Parse(timeLayout, w.StartTime); err == nil {
		t.StartTime = parsed
	}
	if parsed, err := time.Parse(timeLayout, w.FinishTime); err == nil {
		t.FinishTime = parsed
	}
	return t
}

func (s *Store) listByStatus(ctx context.Context, status task.Status, limit int) ([]*task.Task, error) {
	ids, err := s.rdb.ZRevRange(ctx, statusKey(status), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: list %s: %w", status, err)
	}
	var out []*task.Task
	for _, idStr := range ids {
		id, _ := strconv.ParseInt(idStr, 10, 64)
		t, err := s.loadTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]*task.Task, error) {
	return s.listByStatus(ctx, task.StatusPending, limit)
}

func (s *Store) ListInProgress(ctx context.Context, limit int) ([]*task.Task, error) {
	return s.listByStatus(ctx, task.StatusInProgress, limit)
}

func (s *Store) ListProcessed(ctx context.Context, limit int) ([]*task.Task, error) {
	return s.listByStatus(ctx, task.StatusProcessed, limit)
}

func active(f qfilter.Filter) bool {
	return f.LocalOnly || f.LibraryNames != nil || f.TagsFiltered
}

// GetNextPending runs the unfiltered atomic EVAL claim when filter has no
// constraints; otherwise it peeks up to filteredClaimPeekLimit candidates
// in priority order and claims the first one that satisfies filter,
// resolving library metadata against the hybrid relational store.
func (s *Store) GetNextPending(ctx context.Context, filter qfilter.Filter) (*task.Task, error) {
	if !active(filter) {
		res, err := claimScript.Run(ctx, s.rdb, []string{keyPending, keyInProgress, keyTaskHash}, nowRFC3339()).Result()
		if err != nil {
			if err == redis.Nil {
				return nil, nil
			}
			return nil, fmt.Errorf("kvstore: claim: %w", err)
		}
		if res == nil {
			return nil, nil
		}
		if boolRes, ok := res.(int64); ok && boolRes == 0 {
			return nil, nil
		}
		idStr, ok := res.(string)
		if !ok {
			return nil, nil
		}
		id, _ := strconv.ParseInt(idStr, 10, 64)
		t, err := s.loadTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			t.Status = task.StatusInProgress
			t.StartTime = time.Now().UTC()
			if err := s.saveTask(ctx, t); err != nil {
				return nil, err
			}
		}
		return t, nil
	}

	candidates, err := s.rdb.ZRevRange(ctx, keyPending, 0, filteredClaimPeekLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: filtered claim: peek: %w", err)
	}
	for _, idStr := range candidates {
		id, _ := strconv.ParseInt(idStr, 10, 64)
		t, err := s.loadTask(ctx, id)
		if err != nil || t == nil {
			continue
		}
		ok, err := s.matchesFilter(ctx, t, filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		claimed, err := s.tryClaimID(ctx, id)
		if err != nil {
			return nil, err
		}
		if claimed {
			t.Status = task.StatusInProgress
			t.StartTime = time.Now().UTC()
			if err := s.saveTask(ctx, t); err != nil {
				return nil, err
			}
			return t, nil
		}
		// Another claimer won the race for this id; move to the next candidate.
	}
	return nil, nil
}

func (s *Store) tryClaimID(ctx context.Context, id int64) (bool, error) {
	removed, err := s.rdb.ZRem(ctx, keyPending, id).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, keyInProgress, redis.Z{Score: 0, Member: id})
	pipe.HSet(ctx, keyTaskHash+strconv.FormatInt(id, 10), "status", string(task.StatusInProgress), "start_time", nowRFC3339())
	_, err = pipe.Exec(ctx)
	return err == nil, err
}

func (s *Store) matchesFilter(ctx context.Context, t *task.Task, filter qfilter.Filter) (bool, error) {
	if filter.LocalOnly && t.Type != task.TypeLocal {
		return false, nil
	}
	if filter.LibraryNames != nil {
		if s.library == nil {
			return false, nil
		}
		name, err := s.library.LibraryNameFor(ctx, t.LibraryID)
		if err != nil {
			return false, err
		}
		if !contains(filter.LibraryNames, name) {
			return false, nil
		}
	}
	if filter.TagsFiltered {
		if s.library == nil {
			return false, nil
		}
		tags, err := s.library.LibraryTagsFor(ctx, t.LibraryID)
		if err != nil {
			return false, err
		}
		if len(filter.LibraryTags) == 0 {
			if len(tags) != 0 {
				return false, nil
			}
		} else if !intersects(filter.LibraryTags, tags) {
			return false, nil
		}
	}
	return true, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}

func (s *Store) GetNextProcessed(ctx context.Context) (*task.Task, error) {
	ids, err := s.rdb.ZRange(ctx, keyProcessed, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: get next processed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	id, _ := strconv.ParseInt(ids[0], 10, 64)
	return s.loadTask(ctx, id)
}

func (s *Store) MarkInProgress(ctx context.Context, t *task.Task) error {
	return s.moveStatus(ctx, t, task.StatusInProgress)
}

func (s *Store) MarkProcessed(ctx context.Context, t *task.Task) error {
	return s.moveStatus(ctx, t, task.StatusProcessed)
}

func (s *Store) MarkComplete(ctx context.Context, t *task.Task) error {
	if err := task.ValidateTransition(t.Status, task.StatusComplete); err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, keyProcessed, t.ID)
	pipe.Del(ctx, keyTaskHash+strconv.FormatInt(t.ID, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kvstore: mark complete: %w", err)
	}
	t.Status = task.StatusComplete
	return nil
}

func (s *Store) moveStatus(ctx context.Context, t *task.Task, to task.Status) error {
	if err := task.ValidateTransition(t.Status, to); err != nil {
		return err
	}
	from := statusKey(t.Status)
	t.Status = to
	data, err := json.Marshal(toWire(t))
	if err != nil {
		return err
	}

	// The processed set is claimed in finish order (GetNextProcessed), not
	// priority order, so it is scored by a monotonic sequence counter
	// instead of reusing t.Priority the way pending/in_progress are.
	score := float64(t.Priority)
	if to == task.StatusProcessed {
		seq, err := s.rdb.Incr(ctx, keyProcessedSeq).Result()
		if err != nil {
			return fmt.Errorf("kvstore: next processed sequence: %w", err)
		}
		score = float64(seq)
	}

	pipe := s.rdb.TxPipeline()
	if from != "" {
		pipe.ZRem(ctx, from, t.ID)
	}
	pipe.ZAdd(ctx, statusKey(to), redis.Z{Score: score, Member: t.ID})
	pipe.HSet(ctx, keyTaskHash+strconv.FormatInt(t.ID, 10), "json", data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kvstore: set status: %w", err)
	}
	return nil
}

func (s *Store) emptyOf(ctx context.Context, status task.Status) (bool, error) {
	n, err := s.rdb.ZCard(ctx, statusKey(status)).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *Store) PendingEmpty(ctx context.Context) (bool, error)     { return s.emptyOf(ctx, task.StatusPending) }
func (s *Store) InProgressEmpty(ctx context.Context) (bool, error) { return s.emptyOf(ctx, task.StatusInProgress) }
func (s *Store) ProcessedEmpty(ctx context.Context) (bool, error)  { return s.emptyOf(ctx, task.StatusProcessed) }

// RequeueAtBottom computes the current pending minimum score and re-adds
// taskID at min-1, removing it from in_progress first, clearing
// ProcessedByWorker and StartTime so a stale claim can't be mistaken for a
// live one.
func (s *Store) RequeueAtBottom(ctx context.Context, taskID int64) (bool, error) {
	t, err := s.loadTask(ctx, taskID)
	if err != nil || t == nil {
		return false, err
	}
	min, err := s.rdb.ZRangeWithScores(ctx, keyPending, 0, 0).Result()
	if err != nil {
		return false, err
	}
	newScore := 0.0
	if len(min) > 0 {
		newScore = min[0].Score - 1
	}
	t.Status = task.StatusPending
	t.ProcessedByWorker = ""
	t.StartTime = time.Time{}
	data, err := json.Marshal(toWire(t))
	if err != nil {
		return false, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, keyInProgress, taskID)
	pipe.ZAdd(ctx, keyPending, redis.Z{Score: newScore, Member: taskID})
	pipe.HSet(ctx, keyTaskHash+strconv.FormatInt(taskID, 10), "json", data)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("kvstore: requeue: %w", err)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, taskID int64) (*task.Task, error) {
	return s.loadTask(ctx, taskID)
}

func (s *Store) Delete(ctx context.Context, taskID int64) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, keyPending, taskID)
	pipe.ZRem(ctx, keyInProgress, taskID)
	pipe.ZRem(ctx, keyProcessed, taskID)
	pipe.Del(ctx, keyTaskHash+strconv.FormatInt(taskID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

func nowRFC3339() string {
	return time.Now().UTC().Format(timeLayout)
}

// Package sqlstore is the relational pkg/taskqueue backend. It stores
// tasks, libraries, and library tags in SQLite (via the pure-Go
// modernc.org/sqlite driver, chosen over mattn/go-sqlite3 so the binary
// stays cgo-free) and claims the next pending task with a single
// UPDATE ... RETURNING statement so concurrent claimers never race.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/unmanic/unmanicd/pkg/log"
	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue/qfilter"
)

const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS library_tags (
	library_id INTEGER NOT NULL REFERENCES libraries(id),
	tag_id     INTEGER NOT NULL REFERENCES tags(id),
	PRIMARY KEY (library_id, tag_id)
);
CREATE TABLE IF NOT EXISTS tasks (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	abspath             TEXT NOT NULL,
	library_id          INTEGER NOT NULL,
	type                TEXT NOT NULL,
	status              TEXT NOT NULL,
	priority            INTEGER NOT NULL,
	cache_path          TEXT NOT NULL,
	success             INTEGER NOT NULL DEFAULT 0,
	start_time          DATETIME,
	finish_time         DATETIME,
	processed_by_worker TEXT,
	log                 TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority DESC);
`

// Store is the relational taskqueue backend. It satisfies
// pkg/taskqueue.Interface by structural typing.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (or reuses) a SQLite database at path and ensures schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate schema: %w", err)
	}
	return &Store{db: db, log: log.WithComponent("taskqueue.sqlstore")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Create(ctx context.Context, t *task.Task) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (abspath, library_id, type, status, priority, cache_path, success, processed_by_worker, log)
		VALUES (?, ?, ?, ?, ?, ?, 0, '', '')`,
		t.Abspath, t.LibraryID, string(t.Type), string(t.Status), t.Priority, t.CachePath)
	if err != nil {
		return fmt.Errorf("sqlstore: create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlstore: create task: read id: %w", err)
	}
	t.ID = id
	return nil
}

func (s *Store) scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRow(row rowScanner) (*task.Task, error) {
	var t task.Task
	var typ, status string
	var startTime, finishTime sql.NullTime
	if err := row.Scan(&t.ID, &t.Abspath, &t.LibraryID, &typ, &status, &t.Priority,
		&t.CachePath, &t.Success, &startTime, &finishTime, &t.ProcessedByWorker, &t.Log); err != nil {
		return nil, err
	}
	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	if startTime.Valid {
		t.StartTime = startTime.Time
	}
	if finishTime.Valid {
		t.FinishTime = finishTime.Time
	}
	return &t, nil
}

const selectCols = `id, abspath, library_id, type, status, priority, cache_path, success, start_time, finish_time, processed_by_worker, log`

func (s *Store) listByStatus(ctx context.Context, status task.Status, limit int) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM tasks WHERE status = ? ORDER BY priority DESC LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list %s: %w", status, err)
	}
	return s.scanTasks(rows)
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

// GetNextPending atomically claims the highest-priority pending task
// matching filter via UPDATE ... WHERE id = (subquery) RETURNING.
func (s *Store) GetNextPending(ctx context.Context, filter qfilter.Filter) (*task.Task, error) {
	where := []string{"t.status = 'pending'"}
	var args []any

	if filter.LocalOnly {
		where = append(where, "t.type = 'local'")
	}
	if filter.LibraryNames != nil {
		placeholders := make([]string, len(filter.LibraryNames))
		for i, n := range filter.LibraryNames {
			placeholders[i] = "?"
			args = append(args, n)
		}
		if len(placeholders) == 0 {
			// Non-nil empty slice of library names never matches anything.
			where = append(where, "1 = 0")
		} else {
			where = append(where, "l.name IN ("+strings.Join(placeholders, ",")+")")
		}
	}

	join := "JOIN libraries l ON l.id = t.library_id"
	if filter.TagsFiltered {
		if len(filter.LibraryTags) == 0 {
			where = append(where, "NOT EXISTS (SELECT 1 FROM library_tags lt WHERE lt.library_id = l.id)")
		} else {
			join += ` LEFT JOIN library_tags lt ON lt.library_id = l.id LEFT JOIN tags tg ON tg.id = lt.tag_id`
			placeholders := make([]string, len(filter.LibraryTags))
			for i, tg := range filter.LibraryTags {
				placeholders[i] = "?"
				args = append(args, tg)
			}
			where = append(where, "tg.name IN ("+strings.Join(placeholders, ",")+")")
		}
	}

	query := fmt.Sprintf(`
		UPDATE tasks SET status = 'in_progress', start_time = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT t.id FROM tasks t %s
			WHERE %s
			ORDER BY t.priority DESC LIMIT 1
		)
		RETURNING %s`, join, strings.Join(where, " AND "), selectCols)

	row := s.db.QueryRowContext(ctx, query, args...)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get next pending: %w", err)
	}
	return t, nil
}

func (s *Store) GetNextProcessed(ctx context.Context) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = status
		WHERE id = (SELECT id FROM tasks WHERE status = 'processed' ORDER BY id ASC LIMIT 1)
		RETURNING `+selectCols)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get next processed: %w", err)
	}
	return t, nil
}

func (s *Store) MarkInProgress(ctx context.Context, t *task.Task) error {
	return s.setStatus(ctx, t, task.StatusInProgress)
}

func (s *Store) MarkProcessed(ctx context.Context, t *task.Task) error {
	return s.setStatus(ctx, t, task.StatusProcessed)
}

func (s *Store) MarkComplete(ctx context.Context, t *task.Task) error {
	if err := s.setStatus(ctx, t, task.StatusComplete); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET finish_time = CURRENT_TIMESTAMP WHERE id = ?`, t.ID)
	return err
}

func (s *Store) setStatus(ctx context.Context, t *task.Task, to task.Status) error {
	if err := task.ValidateTransition(t.Status, to); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(to), t.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: set status: %w", err)
	}
	t.Status = to
	return nil
}

func (s *Store) emptyOfStatus(ctx context.Context, status task.Status) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlstore: count %s: %w", status, err)
	}
	return n == 0, nil
}

func (s *Store) PendingEmpty(ctx context.Context) (bool, error)     { return s.emptyOfStatus(ctx, task.StatusPending) }
func (s *Store) InProgressEmpty(ctx context.Context) (bool, error) { return s.emptyOfStatus(ctx, task.StatusInProgress) }
func (s *Store) ProcessedEmpty(ctx context.Context) (bool, error)  { return s.emptyOfStatus(ctx, task.StatusProcessed) }

// RequeueAtBottom moves taskID back to pending with priority one below the
// current minimum pending priority, clearing processed_by_worker and
// start_time so a stale claim can't be mistaken for a live one.
func (s *Store) RequeueAtBottom(ctx context.Context, taskID int64) (bool, error) {
	var min sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(priority) FROM tasks WHERE status = 'pending'`).Scan(&min); err != nil {
		return false, fmt.Errorf("sqlstore: requeue: read min priority: %w", err)
	}
	newPriority := int64(0)
	if min.Valid {
		newPriority = min.Int64 - 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = 'pending', priority = ?, processed_by_worker = '', start_time = NULL WHERE id = ?`, newPriority, taskID)
	if err != nil {
		return false, fmt.Errorf("sqlstore: requeue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Get(ctx context.Context, taskID int64) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get: %w", err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	return err
}

// LibraryTagsFor resolves the tag names attached to a library, used by the
// kvstore backend's hybrid filtered-claim path.
func (s *Store) LibraryTagsFor(ctx context.Context, libraryID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tg.name FROM tags tg JOIN library_tags lt ON lt.tag_id = tg.id WHERE lt.library_id = ?`, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// LibraryNameFor resolves a library's name, used by the kvstore backend.
func (s *Store) LibraryNameFor(ctx context.Context, libraryID int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM libraries WHERE id = ?`, libraryID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return name, err
}


package taskqueue

import (
	"fmt"

	"github.com/unmanic/unmanicd/pkg/taskqueue/kvstore"
	"github.com/unmanic/unmanicd/pkg/taskqueue/sqlstore"
)

// Backend names a queue storage engine.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
)

// Config carries both backends' connection settings; only the fields for
// the selected Backend need to be populated.
type Config struct {
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// HybridLibraryStore, when set alongside BackendRedis, lets the kvstore
	// backend resolve library name/tag metadata for filtered claims against
	// a relational store rather than duplicating that metadata in Redis.
	HybridLibraryStore *sqlstore.Store
}

// New constructs the configured backend. Unknown backend names return a
// plain error identifying the offending value rather than panicking -
// config is operator-supplied and must fail loudly but safely.
func New(backend Backend, cfg Config) (Interface, error) {
	switch backend {
	case BackendSQLite:
		return sqlstore.Open(cfg.SQLitePath)
	case BackendRedis:
		return kvstore.Open(kvstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Library:  cfg.HybridLibraryStore,
		})
	default:
		return nil, fmt.Errorf("taskqueue: unknown backend %q", backend)
	}
}

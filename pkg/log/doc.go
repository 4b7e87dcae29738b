/*
Package log provides structured logging for unmanicd using zerolog.

It wraps a single process-wide zerolog.Logger with a configurable level
and JSON/console output, plus helpers that attach the context fields the
rest of the core logs by: component, worker id, library id, task id.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog.Logger instance                  │          │
	│  │  - Initialized via log.Init()               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - JSONOutput: JSON or console (human)      │          │
	│  │  - Output: stdout or a custom io.Writer     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("foreman")                 │          │
	│  │  - WithWorkerID("default-0")                │          │
	│  │  - WithLibraryID(3)                         │          │
	│  │  - WithTaskID(482)                          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Log Levels

Debug: verbose per-stage pipeline detail, development/troubleshooting use.
Info: the default production level - dispatch, transitions, lifecycle
events.
Warn: recoverable anomalies that may need attention (a requeue, a paused
worker group).
Error: a failed operation that was caught and classified into one of
pkg/orcherr's kinds.

# Usage

	import "github.com/unmanic/unmanicd/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("foreman")
	logger.Info().Int64("task_id", t.ID).Msg("dispatched to worker")

	workerLogger := log.WithWorkerID(w.ThreadID)
	workerLogger.Debug().Msg("stage complete")

# Design Patterns

Package-level global logger: Init() is called once at daemon startup;
every other package calls log.WithComponent/WithWorkerID/... rather than
constructing its own zerolog.Logger, so every line in the process carries
the same base fields (time, level) consistently.
*/
package log

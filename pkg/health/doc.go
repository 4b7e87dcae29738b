/*
Package health provides generic HTTP/TCP/exec check primitives plus the
pre/post-transcode media integrity check built on top of them.

The generic Checker interface and its HTTP/TCP/Exec implementations are
domain-agnostic: pkg/api wires equivalent checks against the task queue,
the config directory and the cache directory to answer /health,
/health/live and /health/ready. IntegrityChecker is the domain-specific
use of ExecChecker that a worker (pkg/worker) calls before and after its
pipeline run to classify a media file as healthy or corrupted
(spec.md §4.C steps 3/5, §6.5).

# Architecture

	┌─────────────────────── HEALTH PACKAGE ────────────────────────┐
	│                                                                 │
	│  ┌───────────────────────────────────────────────┐            │
	│  │              Checker (interface)                │            │
	│  │  Check(ctx) Result        Type() CheckType       │            │
	│  └───────┬───────────────┬───────────────┬─────────┘            │
	│          │               │               │                      │
	│  ┌───────▼──────┐ ┌──────▼───────┐ ┌─────▼────────┐            │
	│  │ HTTPChecker  │ │  TCPChecker  │ │ ExecChecker   │            │
	│  │ GET a URL,   │ │ dial a TCP   │ │ run a command │            │
	│  │ check status │ │ address      │ │ check exit 0  │            │
	│  └──────────────┘ └──────────────┘ └──────┬────────┘            │
	│                                            │                     │
	│                                   ┌────────▼─────────┐           │
	│                                   │ IntegrityChecker  │           │
	│                                   │ wraps ExecChecker │           │
	│                                   │ with an ffmpeg    │           │
	│                                   │ probe invocation  │           │
	│                                   └───────────────────┘           │
	└─────────────────────────────────────────────────────────────────┘

# Generic checkers

Checker, Result, Config, Status and the three concrete checkers
(HTTPChecker, TCPChecker, ExecChecker) have no transcoding-specific
knowledge. They are the same small strategy-pattern toolkit a
dependency-health question reaches for regardless of what is on the
other end - a URL, a TCP port, or a local command's exit code.

Status tracks hysteresis for a checker polled on an interval: a single
failed check does not flip Healthy to false, only Retries consecutive
failures do, and a single success resets the counter and restores
Healthy immediately. This is for a collaborator that wants debounced
health state across repeated polls rather than a point-in-time Check
result.

# Integrity checks

IntegrityChecker is what pkg/worker actually calls. spec.md §4.C asks
for a pre-transcode corruption check (step 3) and a post-transcode
check of the produced artifact (step 5), each reporting one of four
statuses: healthy, warning, corrupted, error. IntegrityChecker gets
there by shelling an ffmpeg decode-only probe through ExecChecker and
mapping ExecChecker's binary Healthy/unhealthy verdict onto
IntegrityHealthy/IntegrityCorrupted:

	checker := health.NewIntegrityChecker(cfg.FFmpegPath, 300*time.Second)
	result := checker.Check(ctx, "/library/incoming/movie.mkv")
	if result.Status == health.IntegrityCorrupted {
	    // fail the task per cfg.HealthCheck.FailOnPreCheckCorruption
	}

The actual decode-error classification (distinguishing a genuinely
corrupt file from a merely unusual one, producing the warning status)
belongs to the external FFmpeg-invoker collaborator named in spec.md
§1/§6.5; IntegrityChecker's probe command is a placeholder invocation
until that collaborator is wired in.

# Usage

	import "github.com/unmanic/unmanicd/pkg/health"

	httpCheck := health.NewHTTPChecker("http://127.0.0.1:8888/health").
	    WithTimeout(5 * time.Second)
	result := httpCheck.Check(ctx)

	tcpCheck := health.NewTCPChecker("127.0.0.1:6379")
	result = tcpCheck.Check(ctx)

	execCheck := health.NewExecChecker([]string{"ffprobe", "-version"})
	result = execCheck.Check(ctx)

# Design Patterns

Strategy: HTTPChecker, TCPChecker and ExecChecker all implement Checker,
so a caller can hold a []Checker without caring which kind backs each
entry.

Builder: each concrete checker exposes fluent With* setters
(WithMethod, WithHeader, WithStatusRange, WithTimeout) over its
constructor's defaults.

Context-based cancellation: every Check(ctx) call respects the caller's
deadline, so a slow probe degrades as a timeout, not an unbounded hang.

# See Also

  - pkg/worker - calls IntegrityChecker before and after a worker's
    pipeline run (WithPreCheck, WithPostCheck)
  - pkg/api - answers /health by probing the task queue and the
    config/cache directories
*/
package health

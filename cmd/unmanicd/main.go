// Command unmanicd is the media-transcoding job orchestrator daemon:
// it loads installation config, opens the task queue and supporting
// stores, then starts the Foreman, Post-Processor, distributed-worker
// monitor, and the distributed-worker REST API side by side until
// interrupted. The command tree follows a root command plus "serve"/
// "migrate-config" subcommands, persistent flags for config path and
// log overrides, and a signal.Notify-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unmanic/unmanicd/pkg/api"
	"github.com/unmanic/unmanicd/pkg/config"
	"github.com/unmanic/unmanicd/pkg/distworker"
	"github.com/unmanic/unmanicd/pkg/foreman"
	"github.com/unmanic/unmanicd/pkg/gpu"
	"github.com/unmanic/unmanicd/pkg/health"
	"github.com/unmanic/unmanicd/pkg/history"
	"github.com/unmanic/unmanicd/pkg/library"
	"github.com/unmanic/unmanicd/pkg/log"
	"github.com/unmanic/unmanicd/pkg/metrics"
	"github.com/unmanic/unmanicd/pkg/postprocessor"
	"github.com/unmanic/unmanicd/pkg/pushmsg"
	"github.com/unmanic/unmanicd/pkg/remotetask"
	"github.com/unmanic/unmanicd/pkg/task"
	"github.com/unmanic/unmanicd/pkg/taskqueue"
	"github.com/unmanic/unmanicd/pkg/taskqueue/sqlstore"
	"github.com/unmanic/unmanicd/pkg/worker"
	"github.com/unmanic/unmanicd/pkg/workerauth"
	"github.com/unmanic/unmanicd/pkg/workergroup"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "unmanicd",
	Short: "unmanicd - media-transcoding job orchestrator",
	Long: `unmanicd watches libraries of media files, enqueues transcoding
tasks, dispatches them to local worker threads and authenticated remote
workers, then post-processes the results back into the library.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"unmanicd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/unmanicd/config.yaml", "path to the config file")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level from the config file")
	rootCmd.PersistentFlags().Bool("log-json", false, "override log.json_output from the config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if lvl, _ := rootCmd.PersistentFlags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json"); jsonOut {
		cfg.Log.JSONOutput = true
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSONOutput})
	logger := log.WithComponent("main")

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	groupStore, err := workergroup.Open(cfg.ConfigDir + "/worker_groups.db")
	if err != nil {
		return fmt.Errorf("open worker group store: %w", err)
	}
	defer groupStore.Close()

	libraryStore, err := library.Open(cfg.ConfigDir + "/libraries.db")
	if err != nil {
		return fmt.Errorf("open library store: %w", err)
	}
	defer libraryStore.Close()

	historyStore, err := history.Open(cfg.ConfigDir + "/history.db")
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer historyStore.Close()

	// A redis backend gets no hybrid relational store of its own here:
	// standalone redis mode serves filtered claims from the hash/sorted-
	// set data alone. Wiring a *sqlstore.Store in for hybrid mode is an
	// operator-level config addition, not something this daemon assumes.
	var hybridStore *sqlstore.Store
	queue, err := taskqueue.New(taskqueue.Backend(cfg.TaskQueue.Backend), taskqueue.Config{
		SQLitePath:         cfg.TaskQueue.SQLitePath,
		RedisAddr:          cfg.TaskQueue.RedisAddr,
		RedisPassword:      cfg.TaskQueue.RedisPassword,
		RedisDB:            cfg.TaskQueue.RedisDB,
		HybridLibraryStore: hybridStore,
	})
	if err != nil {
		return fmt.Errorf("open task queue: %w", err)
	}
	defer queue.Close()

	authMgr, err := workerauth.New(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("open worker auth manager: %w", err)
	}

	gpuMgr := gpu.NewManager(gpu.Strategy(cfg.GPU.Strategy), cfg.GPU.MaxWorkersPerGPU)
	pushBus := pushmsg.New()
	scratch := task.NewScratchStore()
	pipeline := worker.NewPluginPipeline(libraryStore, scratch)

	var preCheck, postCheck *health.IntegrityChecker
	if cfg.HealthCheck.TimeoutSeconds > 0 {
		timeout := time.Duration(cfg.HealthCheck.TimeoutSeconds) * time.Second
		preCheck = health.NewIntegrityChecker(cfg.HealthCheck.FFmpegPath, timeout)
		postCheck = health.NewIntegrityChecker(cfg.HealthCheck.FFmpegPath, timeout)
	}

	completeCh := make(chan *task.Task, 64)
	coordinator := remotetask.New(completeCh, scratch)
	if len(cfg.Links.Peers) > 0 {
		peers := make([]remotetask.Peer, 0, len(cfg.Links.Peers))
		for _, p := range cfg.Links.Peers {
			peers = append(peers, remotetask.Peer{
				UUID:        p.UUID,
				Address:     p.Address,
				BasicUser:   p.BasicUser,
				BasicPass:   p.BasicPass,
				BearerToken: p.BearerToken,
			})
		}
		coordinator.SetPeers(peers)
	}

	workerStatusRecorder := metrics.NewWorkerStatusRecorder()

	f := foreman.New(queue, groupStore, libraryStore, gpuMgr, pushBus, pipeline,
		foreman.WithCompleteChan(completeCh),
		foreman.WithRemoteCoordinator(coordinator),
		foreman.WithPreCheck(preCheck, cfg.HealthCheck.FailOnPreCheckCorruption),
		foreman.WithPostCheck(postCheck),
		foreman.WithLegacyWorkerCount(cfg.Workers.LegacyCount, nil),
		foreman.WithMetricsSink(workerStatusRecorder),
	)

	collector := metrics.NewCollector(queue, groupStore, gpuMgr, coordinator)

	pp := postprocessor.New(queue, historyStore, scratch)
	monitor := distworker.New(authMgr, queue)

	srv := api.New(queue, scratch, authMgr, pushBus, libraryNamer{libraryStore}, api.Checkers{
		"database": checkerAdapter{queue},
		"config":   pathChecker{cfg.ConfigDir},
		"cache":    pathChecker{cfg.CacheDir},
	}, Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.Start(ctx)
	pp.Start(ctx)
	monitor.Start(ctx)
	collector.Start()
	srv.Start(cfg.API.Listen)

	logger.Info().Str("listen", cfg.API.Listen).Msg("unmanicd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown")
	}

	collector.Stop()
	f.Stop()
	pp.Stop()
	monitor.Stop()
	f.Wait()
	pp.Wait()
	monitor.Wait()

	logger.Info().Msg("shutdown complete")
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate-config [path]",
	Short: "Migrate a legacy .unmanic INI settings file to JSON in place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sections, err := library.LoadUnmanicFile(args[0])
		if err != nil {
			return err
		}
		if err := library.SaveUnmanicFile(args[0], sections); err != nil {
			return err
		}
		fmt.Printf("migrated %s to JSON (%d sections)\n", args[0], len(sections))
		return nil
	},
}

// libraryNamer adapts pkg/library.Store to pkg/api.LibraryNamer.
type libraryNamer struct{ store *library.Store }

func (l libraryNamer) Get(id int64) (api.LibraryInfo, bool) {
	lib, err := l.store.Get(id)
	if err != nil {
		return api.LibraryInfo{}, false
	}
	return api.LibraryInfo{
		Name:           lib.Name,
		EnabledPlugins: lib.EnabledPlugins,
		PluginFlow:     lib.PluginFlow,
	}, true
}

// checkerAdapter reports the task queue reachable by probing
// PendingEmpty, satisfying pkg/api.Checker for the "database" component.
type checkerAdapter struct{ queue taskqueue.Interface }

func (c checkerAdapter) Check(ctx context.Context) api.CheckResult {
	if _, err := c.queue.PendingEmpty(ctx); err != nil {
		return api.CheckResult{Healthy: false, Message: err.Error()}
	}
	return api.CheckResult{Healthy: true}
}

// pathChecker reports healthy if dir is a stat-able directory, satisfying
// pkg/api.Checker for the "config" and "cache" components.
type pathChecker struct{ dir string }

func (c pathChecker) Check(ctx context.Context) api.CheckResult {
	info, err := os.Stat(c.dir)
	if err != nil {
		return api.CheckResult{Healthy: false, Message: err.Error()}
	}
	if !info.IsDir() {
		return api.CheckResult{Healthy: false, Message: c.dir + " is not a directory"}
	}
	return api.CheckResult{Healthy: true}
}

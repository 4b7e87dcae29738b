// Package config loads installation-wide settings via viper, following
// firestige-Otus's Load/setDefaults/ValidateAndApplyDefaults shape: a
// typed Config struct tagged with mapstructure, defaults set before
// unmarshal, environment overrides via AutomaticEnv, and an OnChange
// helper that runs a callback when the config file changes on disk. The
// Foreman's config-drift check (spec.md §4.E.4) does not use OnChange; it
// compares a hash of every library's plugin flow on each tick. The
// per-library ".unmanic" settings file is deliberately
// NOT modeled here - see pkg/library/unmanicfile.go and DESIGN.md.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the installation-wide settings document.
type Config struct {
	CacheDir       string         `mapstructure:"cache_dir"`
	ConfigDir      string         `mapstructure:"config_dir"`
	LibraryRoots   []string       `mapstructure:"library_roots"`
	Workers        WorkersConfig  `mapstructure:"workers"`
	TaskQueue      TaskQueueConfig `mapstructure:"task_queue"`
	GPU            GPUConfig      `mapstructure:"gpu"`
	HealthCheck    HealthCheckConfig `mapstructure:"health_check"`
	Links          LinksConfig    `mapstructure:"links"`
	API            APIConfig      `mapstructure:"api"`
	Log            LogConfig      `mapstructure:"log"`
}

// WorkersConfig carries the legacy scalar worker count §4.D migrates out
// of.
type WorkersConfig struct {
	LegacyCount int `mapstructure:"legacy_count"`
}

// TaskQueueConfig selects and configures a pkg/taskqueue backend (§6.4).
type TaskQueueConfig struct {
	Backend       string `mapstructure:"backend"` // "sqlite" | "redis"
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// GPUConfig configures pkg/gpu's allocation strategy (§3.5).
type GPUConfig struct {
	Strategy         string `mapstructure:"strategy"` // round_robin | least_used | manual
	MaxWorkersPerGPU int    `mapstructure:"max_workers_per_gpu"`
}

// HealthCheckConfig bounds the pre/post-transcode integrity check
// timeout (§5 Timeouts: configurable 30-3600s, default 300).
type HealthCheckConfig struct {
	TimeoutSeconds           int  `mapstructure:"timeout_seconds"`
	FailOnPreCheckCorruption bool `mapstructure:"fail_on_pre_check_corruption"`
	FFmpegPath               string `mapstructure:"ffmpeg_path"`
}

// LinksConfig configures this installation's federation with remote peer
// installations (§4.G, §6.5 "Remote peer discovery").
type LinksConfig struct {
	HeartbeatSeconds int          `mapstructure:"heartbeat_seconds"`
	Peers            []PeerConfig `mapstructure:"peers"`
}

// PeerConfig is one statically-configured federated installation.
// Production deployments would learn these via a links/discovery
// subsystem (§6.5); this repo's core takes them as config since that
// subsystem is an external collaborator (§1 "Deliberately out of
// scope").
type PeerConfig struct {
	UUID        string `mapstructure:"uuid"`
	Address     string `mapstructure:"address"`
	BasicUser   string `mapstructure:"basic_user"`
	BasicPass   string `mapstructure:"basic_pass"`
	BearerToken string `mapstructure:"bearer_token"`
}

// APIConfig configures the distributed-worker REST listener (§6.1).
type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// LogConfig mirrors pkg/log.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	JSONOutput bool   `mapstructure:"json_output"`
}

// Load reads path (any format viper supports - YAML/JSON/TOML) into a
// Config, applying defaults first and environment overrides
// (UNMANICD_-prefixed, "." -> "_") last.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("unmanicd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_dir", "/var/lib/unmanicd/cache")
	v.SetDefault("config_dir", "/var/lib/unmanicd")
	v.SetDefault("workers.legacy_count", 1)
	v.SetDefault("task_queue.backend", "sqlite")
	v.SetDefault("task_queue.sqlite_path", "/var/lib/unmanicd/tasks.db")
	v.SetDefault("task_queue.redis_addr", "127.0.0.1:6379")
	v.SetDefault("gpu.strategy", "round_robin")
	v.SetDefault("gpu.max_workers_per_gpu", 0)
	v.SetDefault("health_check.timeout_seconds", 300)
	v.SetDefault("health_check.fail_on_pre_check_corruption", false)
	v.SetDefault("health_check.ffmpeg_path", "ffmpeg")
	v.SetDefault("links.heartbeat_seconds", 10)
	v.SetDefault("api.listen", ":8888")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json_output", true)
}

func (cfg *Config) validate() error {
	if cfg.HealthCheck.TimeoutSeconds < 30 || cfg.HealthCheck.TimeoutSeconds > 3600 {
		return fmt.Errorf("config: health_check.timeout_seconds must be 30-3600, got %d", cfg.HealthCheck.TimeoutSeconds)
	}
	switch cfg.TaskQueue.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("config: task_queue.backend must be sqlite or redis, got %q", cfg.TaskQueue.Backend)
	}
	return nil
}

// OnChange starts watching the config file and invokes fn whenever it
// changes on disk. The Foreman's config-drift detection does not call it;
// that check polls a plugin-flow hash every tick.
func OnChange(path string, fn func()) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	v.OnConfigChange(func(fsnotify.Event) { fn() })
	v.WatchConfig()
	return nil
}

// Package config centralizes the dispatch fabric's tunables: pool size,
// deadlines, selection policy, socket paths. Values are layered the
// conventional Viper way — flags override environment, environment overrides
// an optional config file, the file overrides the hardcoded defaults below.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MaxWorkers is the hard cap on pool size.
const MaxWorkers = 32

// Config is the resolved set of tunables for one control-plane process.
type Config struct {
	PoolSize         int           `mapstructure:"pool_size"`
	MaxWorkers       int           `mapstructure:"max_workers"`
	Policy           string        `mapstructure:"policy"`
	SubmitDeadline   time.Duration `mapstructure:"submit_deadline"`
	DispatchRetries  int           `mapstructure:"dispatch_retries"`
	RespawnDelay     time.Duration `mapstructure:"respawn_delay"`
	FrontSocketPath  string        `mapstructure:"front_socket_path"`
	AdminSocketPath  string        `mapstructure:"admin_socket_path"`
	StoreRoot        string        `mapstructure:"store_root"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	RateLimitPerSec  int           `mapstructure:"rate_limit_per_sec"`
	WorkerBinaryPath string        `mapstructure:"worker_binary_path"`
}

// Default returns the hardcoded baseline before file/env/flag overlays.
func Default() Config {
	return Config{
		PoolSize:         4,
		MaxWorkers:       MaxWorkers,
		Policy:           "round-robin",
		SubmitDeadline:   5 * time.Second,
		DispatchRetries:  1,
		RespawnDelay:     50 * time.Millisecond,
		FrontSocketPath:  "/tmp/faas_server.sock",
		AdminSocketPath:  "/tmp/faas_lb.sock",
		StoreRoot:        "functions",
		MetricsAddr:      ":9090",
		RateLimitPerSec:  200,
		WorkerBinaryPath: "./worker",
	}
}

// BindFlags registers the config's flags on fs with the given defaults, for
// use from a cobra.Command's PersistentFlags.
func BindFlags(fs *pflag.FlagSet, def Config) {
	fs.Int("pool-size", def.PoolSize, "number of pre-warmed workers")
	fs.Int("max-workers", def.MaxWorkers, "hard cap on pool size")
	fs.String("policy", def.Policy, "selection policy: round-robin|first-available|weighted")
	fs.Duration("submit-deadline", def.SubmitDeadline, "absolute deadline for a single worker submit")
	fs.Int("dispatch-retries", def.DispatchRetries, "retries across other selectable workers on failure")
	fs.Duration("respawn-delay", def.RespawnDelay, "inter-spawn delay when pre-warming the pool")
	fs.String("front-socket", def.FrontSocketPath, "UNIX socket path for caller-facing deploy/invoke traffic")
	fs.String("admin-socket", def.AdminSocketPath, "UNIX socket path for dispatcher administrative frames")
	fs.String("store-root", def.StoreRoot, "filesystem root for the function store")
	fs.String("metrics-addr", def.MetricsAddr, "listen address for the /metrics endpoint")
	fs.Int("rate-limit-per-sec", def.RateLimitPerSec, "per-caller invoke rate limit")
	fs.String("worker-binary", def.WorkerBinaryPath, "path to the worker runtime executable")
}

// Load resolves a Config from fs (already parsed by cobra), environment
// variables under the FAAS_ prefix, and an optional config file.
func Load(fs *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FAAS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: binding flags: %w", err)
	}

	def := Default()
	v.SetDefault("pool_size", def.PoolSize)
	v.SetDefault("max_workers", def.MaxWorkers)
	v.SetDefault("policy", def.Policy)
	v.SetDefault("submit_deadline", def.SubmitDeadline)
	v.SetDefault("dispatch_retries", def.DispatchRetries)
	v.SetDefault("respawn_delay", def.RespawnDelay)
	v.SetDefault("front_socket_path", def.FrontSocketPath)
	v.SetDefault("admin_socket_path", def.AdminSocketPath)
	v.SetDefault("store_root", def.StoreRoot)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("rate_limit_per_sec", def.RateLimitPerSec)
	v.SetDefault("worker_binary_path", def.WorkerBinaryPath)

	for key, flag := range map[string]string{
		"pool_size":          "pool-size",
		"max_workers":        "max-workers",
		"submit_deadline":    "submit-deadline",
		"dispatch_retries":   "dispatch-retries",
		"respawn_delay":      "respawn-delay",
		"front_socket_path":  "front-socket",
		"admin_socket_path":  "admin-socket",
		"store_root":         "store-root",
		"metrics_addr":       "metrics-addr",
		"rate_limit_per_sec": "rate-limit-per-sec",
		"worker_binary_path": "worker-binary",
	} {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("config: binding %s: %w", flag, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.MaxWorkers > MaxWorkers {
		return Config{}, fmt.Errorf("config: max_workers %d exceeds the hard cap %d", cfg.MaxWorkers, MaxWorkers)
	}
	if cfg.PoolSize > cfg.MaxWorkers {
		return Config{}, fmt.Errorf("config: pool_size %d exceeds max_workers %d", cfg.PoolSize, cfg.MaxWorkers)
	}
	switch cfg.Policy {
	case "round-robin", "first-available", "weighted":
	default:
		return Config{}, fmt.Errorf("config: unrecognized policy %q", cfg.Policy)
	}

	return cfg, nil
}

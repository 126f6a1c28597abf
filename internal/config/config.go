// Package config loads the hub's runtime configuration from flags,
// environment variables, and an optional config file, layered with
// spf13/viper + spf13/pflag the way the teacher's broader retrieval
// pack configures CLI tools (activebook-gllm's data.ConfigStore wraps
// viper the same way: typed accessors over one underlying *viper.Viper).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable the hub's components need at construction.
type Config struct {
	ListenAddr string

	OfflineThreshold      time.Duration
	StalePendingThreshold time.Duration
	SweepInterval         time.Duration
	MaxAttempts           int

	NotificationCapacity int
	NotificationTTL      time.Duration

	LogLevel string
}

// Default returns the hub's out-of-the-box configuration.
func Default() Config {
	return Config{
		ListenAddr:            ":7420",
		OfflineThreshold:      30 * time.Second,
		StalePendingThreshold: 2 * time.Minute,
		SweepInterval:         5 * time.Second,
		MaxAttempts:           3,
		NotificationCapacity:  32,
		NotificationTTL:       5 * time.Minute,
		LogLevel:              "info",
	}
}

// Load parses args (typically os.Args[1:]) against flags, environment
// variables prefixed EXOHUB_, and — only when --config names one — a
// config file at that path, returning the merged Config. No search path
// is consulted.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("exohub", pflag.ContinueOnError)
	fs.String("listen-addr", cfg.ListenAddr, "address the HTTP API listens on")
	fs.Duration("offline-threshold", cfg.OfflineThreshold, "heartbeat timeout before an agent is marked offline")
	fs.Duration("stale-pending-threshold", cfg.StalePendingThreshold, "age at which a pending task's priority is decayed")
	fs.Duration("sweep-interval", cfg.SweepInterval, "liveness sweep cadence")
	fs.Int("max-attempts", cfg.MaxAttempts, "maximum attempts before a transiently-failing task is given up on")
	fs.Int("notification-capacity", cfg.NotificationCapacity, "per-agent notification queue capacity")
	fs.Duration("notification-ttl", cfg.NotificationTTL, "time-to-live for an undelivered notification")
	fs.String("log-level", cfg.LogLevel, "logrus log level")
	fs.String("config", "", "path to an optional exohub.yaml/.json config file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("exohub")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("binding flags: %w", err)
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = v.GetString("listen-addr")
	cfg.OfflineThreshold = v.GetDuration("offline-threshold")
	cfg.StalePendingThreshold = v.GetDuration("stale-pending-threshold")
	cfg.SweepInterval = v.GetDuration("sweep-interval")
	cfg.MaxAttempts = v.GetInt("max-attempts")
	cfg.NotificationCapacity = v.GetInt("notification-capacity")
	cfg.NotificationTTL = v.GetDuration("notification-ttl")
	cfg.LogLevel = v.GetString("log-level")

	if cfg.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("max-attempts must be >= 1, got %d", cfg.MaxAttempts)
	}

	return cfg, nil
}

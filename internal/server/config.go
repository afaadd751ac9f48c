// Package server provides configuration helpers that define runtime defaults,
// validation, and coordination parameters for the Flockcast service.
package server

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings, including the shutdown
// coordination parameters shared with the coord package.
type Config struct {
	Port              string
	AllowedOrigins    []string
	MaxMessageSize    int64
	RateLimit         RateLimitConfig
	ShutdownTimeout   time.Duration
	WarningInterval   time.Duration
	HeartbeatInterval time.Duration
	CoordinationDir   string
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		ShutdownTimeout:   30 * time.Minute,
		WarningInterval:   5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		CoordinationDir:   filepath.Join(os.TempDir(), "flockcast-coordination"),
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	if cfg.WarningInterval <= 0 {
		cfg.WarningInterval = defaults.WarningInterval
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}

	if cfg.CoordinationDir == "" {
		cfg.CoordinationDir = defaults.CoordinationDir
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := Config{
		Port:              cfg.Port,
		AllowedOrigins:    append([]string(nil), cfg.AllowedOrigins...),
		MaxMessageSize:    cfg.MaxMessageSize,
		RateLimit:         cfg.RateLimit,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		WarningInterval:   cfg.WarningInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		CoordinationDir:   cfg.CoordinationDir,
	}
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// AddFlags registers every configuration flag on the given flag set. The
// command layer binds the set into viper so flags override both defaults and
// environment variables.
func AddFlags(fs *pflag.FlagSet) {
	defaults := defaultConfig()

	fs.String("port", defaults.Port, "address the HTTP server listens on")
	fs.StringSlice("allowed-origins", defaults.AllowedOrigins, "origins allowed to open WebSocket connections")
	fs.Int64("max-message-size", defaults.MaxMessageSize, "maximum inbound message size in bytes")
	fs.Int("rate-limit-burst", defaults.RateLimit.Burst, "messages allowed per refill interval per connection")
	fs.Duration("rate-limit-refill-interval", defaults.RateLimit.RefillInterval, "rate limiter refill interval")
	fs.Duration("shutdown-timeout", defaults.ShutdownTimeout, "how long to wait for clients to drain after a termination signal")
	fs.Duration("warning-interval", defaults.WarningInterval, "interval between shutdown warning broadcasts")
	fs.Duration("heartbeat-interval", defaults.HeartbeatInterval, "interval between heartbeat broadcasts")
	fs.String("coordination-dir", defaults.CoordinationDir, "shared directory for worker liveness markers")
}

// RegisterDefaults seeds a viper instance with the default value for every
// configuration key. Flags bound to the same keys by the command layer
// override them, and FLOCKCAST_* environment variables sit in between.
func RegisterDefaults(v *viper.Viper) {
	defaults := defaultConfig()

	v.SetDefault("port", defaults.Port)
	v.SetDefault("allowed-origins", defaults.AllowedOrigins)
	v.SetDefault("max-message-size", defaults.MaxMessageSize)
	v.SetDefault("rate-limit-burst", defaults.RateLimit.Burst)
	v.SetDefault("rate-limit-refill-interval", defaults.RateLimit.RefillInterval)
	v.SetDefault("shutdown-timeout", defaults.ShutdownTimeout)
	v.SetDefault("warning-interval", defaults.WarningInterval)
	v.SetDefault("heartbeat-interval", defaults.HeartbeatInterval)
	v.SetDefault("coordination-dir", defaults.CoordinationDir)
}

// NewConfigFromViper builds a Config from the given viper instance. Values the
// instance does not carry fall back to defaults through the sanitize pass.
func NewConfigFromViper(v *viper.Viper) *Config {
	cfg := Config{
		Port:           v.GetString("port"),
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		MaxMessageSize: v.GetInt64("max-message-size"),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt("rate-limit-burst"),
			RefillInterval: v.GetDuration("rate-limit-refill-interval"),
		},
		ShutdownTimeout:   v.GetDuration("shutdown-timeout"),
		WarningInterval:   v.GetDuration("warning-interval"),
		HeartbeatInterval: v.GetDuration("heartbeat-interval"),
		CoordinationDir:   v.GetString("coordination-dir"),
	}
	return &cfg
}

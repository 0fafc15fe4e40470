package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fxsml/gomts/config"
	"github.com/fxsml/gomts/transport"
)

// Config is the configuration of a node. It is read from an optional YAML
// file and then overlaid with MTS_* environment variables, for example
// MTS_TRANSPORT_MAX_ATTEMPTS or MTS_DIRECTORY_REDIS_ADDR.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Transport transport.Config `yaml:"transport"`
	Directory DirectoryConfig  `yaml:"directory"`
	HTTP      HTTPConfig       `yaml:"http"`
	NATS      NATSConfig       `yaml:"nats"`
	Aspects   AspectsConfig    `yaml:"aspects"`
	Metrics   MetricsConfig    `yaml:"metrics"`

	// Clients are addresses of local clients that log what they receive.
	Clients []string `yaml:"clients"`
	// Groups are multicast groups the local clients join.
	Groups []string `yaml:"groups"`
	// ShutdownTimeout bounds draining the send pipeline on stop. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn or error. Default: info.
	Level string `yaml:"level"`
	// Format is text or json. Default: text.
	Format string `yaml:"format"`
}

// DirectoryConfig selects the name service.
type DirectoryConfig struct {
	// Kind is memory or redis. Default: memory.
	Kind        string        `yaml:"kind"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	// NoCache disables the lookup cache in front of the directory.
	NoCache bool `yaml:"no_cache"`
}

// HTTPConfig configures the listener and the HTTP protocol.
type HTTPConfig struct {
	// Listen is the listen address. Default: ":8080".
	Listen string `yaml:"listen"`
	// Endpoint is the base URL peers use to reach this node.
	// The HTTP protocol is disabled when empty.
	Endpoint string `yaml:"endpoint"`
	Path     string `yaml:"path"`
	Cost     int    `yaml:"cost"`
}

// NATSConfig configures the NATS protocol. It is disabled when URL is empty.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Cost           int           `yaml:"cost"`
}

// AspectsConfig holds the settings of the aspects named in
// Transport.Aspects.
type AspectsConfig struct {
	RetryLimit int      `yaml:"retry_limit"`
	GuardKey   string   `yaml:"guard_key"`
	Mask       []string `yaml:"mask"`
	DedupeSize int      `yaml:"dedupe_size"`
	// TraceLevel is the level of successful trace records. Default: debug.
	TraceLevel string `yaml:"trace_level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Path of the metrics handler. Default: "/metrics".
	Path string `yaml:"path"`
	// Disabled removes the metrics handler.
	Disabled bool `yaml:"disabled"`
}

func (c Config) parse() (Config, error) {
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return c, fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	switch c.Directory.Kind {
	case "":
		c.Directory.Kind = "memory"
	case "memory":
	case "redis":
		if c.Directory.RedisAddr == "" {
			return c, fmt.Errorf("directory: redis_addr required")
		}
	default:
		return c, fmt.Errorf("unknown directory kind %q", c.Directory.Kind)
	}

	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c, nil
}

func (c LogConfig) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadConfig reads the file at path, if any, and overlays the environment.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := config.Load("", &cfg); err != nil {
		return cfg, err
	}
	return cfg.parse()
}

func newLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Log.level()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

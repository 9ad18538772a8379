// Package cortex wires agents, the propagation engine and the executive loop
// into a configurable runtime.
package cortex

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/aixgo-dev/cortex/agent"
	"github.com/aixgo-dev/cortex/internal/safeyaml"
)

// Unlimited disables an engine limit in EngineConfig.
const Unlimited = -1

// Environment variables that override the configuration file.
const (
	EnvLogLevel    = "CORTEX_LOG_LEVEL"
	EnvMetricsAddr = "CORTEX_METRICS_ADDR"
	EnvRedisAddr   = "CORTEX_REDIS_ADDR"
)

// Config represents the top-level configuration
type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Executive     ExecutiveConfig     `yaml:"executive"`
	Observability ObservabilityConfig `yaml:"observability"`
	Events        EventsConfig        `yaml:"events"`
	Logging       LoggingConfig       `yaml:"logging"`
	World         WorldConfig         `yaml:"world"`
}

// EngineConfig bounds propagation.
type EngineConfig struct {
	// MaxDepth limits how deep a reply may be below its root. 0 selects the
	// default of 64; Unlimited removes the limit.
	MaxDepth int `yaml:"max_depth"`

	// MaxMessages limits the replies of one propagation. 0 selects the
	// default of 10000; Unlimited removes the limit.
	MaxMessages int `yaml:"max_messages"`

	// DispatchRate is the sustained dispatches per second. 0 = unlimited.
	DispatchRate  float64 `yaml:"dispatch_rate"`
	DispatchBurst int     `yaml:"dispatch_burst"`

	// MaxParallel bounds how many independent roots propagate at once.
	MaxParallel int `yaml:"max_parallel"`
}

// ExecutiveConfig configures the model-predictive executive.
type ExecutiveConfig struct {
	Name      string `yaml:"name"`
	Lookahead int    `yaml:"lookahead"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	// Exporter is one of "none", "stdout" or "otlp".
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// EventsConfig configures external dispatch event sinks.
type EventsConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis pub/sub sink. An empty Addr disables it.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// WorldConfig configures the demonstration line world.
type WorldConfig struct {
	Start    int    `yaml:"start"`
	Goal     int    `yaml:"goal"`
	Steps    int    `yaml:"steps"`
	Schedule string `yaml:"schedule"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Engine.MaxDepth == 0 {
		c.Engine.MaxDepth = 64
	}
	if c.Engine.MaxMessages == 0 {
		c.Engine.MaxMessages = 10000
	}
	if c.Engine.DispatchRate > 0 && c.Engine.DispatchBurst == 0 {
		c.Engine.DispatchBurst = 1
	}
	if c.Engine.MaxParallel == 0 {
		c.Engine.MaxParallel = 4
	}
	if c.Executive.Name == "" {
		c.Executive.Name = "executive"
	}
	if c.Executive.Lookahead == 0 {
		c.Executive.Lookahead = 2
	}
	if c.Observability.Tracing.Exporter == "" {
		c.Observability.Tracing.Exporter = "none"
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "cortex"
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "cortex:events"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.World.Goal == 0 && c.World.Start == 0 {
		c.World.Goal = 5
	}
	if c.World.Steps == 0 {
		c.World.Steps = 20
	}
	if c.World.Schedule == "" {
		c.World.Schedule = "@every 10s"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Observability.MetricsAddr = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Events.Redis.Addr = v
	}
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	switch {
	case c.Engine.MaxDepth < Unlimited:
		return fmt.Errorf("engine.max_depth must be positive or %d for unlimited", Unlimited)
	case c.Engine.MaxMessages < Unlimited:
		return fmt.Errorf("engine.max_messages must be positive or %d for unlimited", Unlimited)
	case c.Engine.DispatchRate < 0:
		return fmt.Errorf("engine.dispatch_rate must not be negative")
	case c.Engine.MaxParallel < 1:
		return fmt.Errorf("engine.max_parallel must be at least 1")
	case c.Executive.Lookahead < 1:
		return fmt.Errorf("executive.lookahead must be at least 1")
	case c.World.Steps < 1:
		return fmt.Errorf("world.steps must be at least 1")
	}
	switch c.Observability.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("observability.tracing.exporter %q is not one of none, stdout, otlp", c.Observability.Tracing.Exporter)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// EngineOptions translates the engine section into engine options.
func (c *Config) EngineOptions() []agent.Option {
	opts := []agent.Option{
		agent.WithMaxDepth(max(c.Engine.MaxDepth, 0)),
		agent.WithMaxMessages(max(c.Engine.MaxMessages, 0)),
	}
	if c.Engine.DispatchRate > 0 {
		opts = append(opts, agent.WithRateLimiter(rate.NewLimiter(rate.Limit(c.Engine.DispatchRate), c.Engine.DispatchBurst)))
	}
	return opts
}

// NewLogger builds the logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("logging.level %q: %w", s, err)
	}
	return level, nil
}

// FileReader interface for reading files (testable)
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is the operator's config file
}

// ConfigLoader loads configuration from a file
type ConfigLoader struct {
	fileReader FileReader
	decoder    *safeyaml.Decoder
}

// NewConfigLoader creates a config loader with the default YAML limits
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return NewConfigLoaderWithLimits(fr, safeyaml.DefaultLimits())
}

// NewConfigLoaderWithLimits creates a config loader with custom YAML limits
func NewConfigLoaderWithLimits(fr FileReader, limits safeyaml.Limits) *ConfigLoader {
	return &ConfigLoader{
		fileReader: fr,
		decoder:    safeyaml.NewDecoder(limits),
	}
}

// LoadConfig reads, parses and validates a config file. Defaults fill
// missing values and environment variables override the file.
func (cl *ConfigLoader) LoadConfig(configPath string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := cl.decoder.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Load loads configPath from disk, or returns the default configuration
// (with environment overrides) when configPath is empty.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := DefaultConfig()
		cfg.applyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return NewConfigLoader(&OSFileReader{}).LoadConfig(configPath)
}

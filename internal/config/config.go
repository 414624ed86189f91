// Package config loads currentop settings from the environment and from
// command-line overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mrzor/currentop/internal/logging"
)

// MaxWorkersLimit caps the configurable worker capacity.
const MaxWorkersLimit = 1 << 20

// Config holds the process group settings.
type Config struct {
	// TrackOperations switches the metadata write path on. When false the
	// slot store is never allocated.
	TrackOperations bool `env:"CURRENTOP_TRACK_OPERATIONS" envDefault:"false"`
	// MaxWorkers is the worker capacity, fixed for the life of the process group.
	MaxWorkers int `env:"CURRENTOP_MAX_WORKERS" envDefault:"64"`
	// ReadRetries caps the torn copies a reader discards per slot.
	ReadRetries int    `env:"CURRENTOP_READ_RETRIES" envDefault:"32"`
	ListenAddr  string `env:"CURRENTOP_LISTEN_ADDR" envDefault:"127.0.0.1:8089"`
	LogLevel    string `env:"CURRENTOP_LOG_LEVEL" envDefault:"info"`
	// SnapshotInterval paces the watch stream.
	SnapshotInterval time.Duration `env:"CURRENTOP_SNAPSHOT_INTERVAL" envDefault:"1s"`
	// Filter is an expression selecting which operations the watch stream reports.
	Filter string `env:"CURRENTOP_FILTER"`
	// Attributes holds custom span attributes as NAME=EXPR;NAME=EXPR.
	Attributes string `env:"CURRENTOP_ATTRIBUTES"`
	// ExportSpans turns on the OTLP span formatter for the watch stream.
	ExportSpans bool `env:"CURRENTOP_EXPORT_SPANS" envDefault:"false"`
	// TraceID is an expression giving each exported span its trace ID. Empty
	// files operations under their session id.
	TraceID string `env:"CURRENTOP_TRACE_ID"`
	// Watch prints each watch stream snapshot to stdout as a JSON line.
	Watch bool `env:"CURRENTOP_WATCH" envDefault:"false"`

	Workload WorkloadConfig
	OTEL     OTELConfig

	// AttributeFlags holds NAME=EXPR values given on the command line. They
	// follow the attributes from the environment.
	AttributeFlags []string
}

// WorkloadConfig shapes the simulated host workload run by the serve command.
type WorkloadConfig struct {
	// MaxOperation bounds how long one simulated operation runs.
	MaxOperation time.Duration `env:"CURRENTOP_WORKLOAD_MAX_OPERATION" envDefault:"2s"`
	// SessionRatio is the fraction of operations that carry a session id.
	SessionRatio float64 `env:"CURRENTOP_WORKLOAD_SESSION_RATIO" envDefault:"0.7"`
	// Seed fixes the workload's randomness. Zero picks a random seed.
	Seed uint64 `env:"CURRENTOP_WORKLOAD_SEED" envDefault:"0"`
}

// CustomAttribute is a span attribute computed by an expression.
type CustomAttribute struct {
	Name       string
	Expression string
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	if c.MaxWorkers <= 0 || c.MaxWorkers > MaxWorkersLimit {
		return fmt.Errorf("max workers must be in [1,%d], got %d", MaxWorkersLimit, c.MaxWorkers)
	}
	if c.ReadRetries <= 0 {
		return fmt.Errorf("read retries must be positive, got %d", c.ReadRetries)
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot interval must be positive, got %s", c.SnapshotInterval)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.CustomAttributes(); err != nil {
		return err
	}
	if c.Workload.MaxOperation <= 0 {
		return fmt.Errorf("workload max operation must be positive, got %s", c.Workload.MaxOperation)
	}
	if c.Workload.SessionRatio < 0 || c.Workload.SessionRatio > 1 {
		return fmt.Errorf("workload session ratio must be in [0,1], got %g", c.Workload.SessionRatio)
	}
	return nil
}

// CustomAttributes returns the attributes from the environment followed by
// those from flags.
func (c *Config) CustomAttributes() ([]CustomAttribute, error) {
	attrs, err := ParseAttributeString(c.Attributes)
	if err != nil {
		return nil, fmt.Errorf("CURRENTOP_ATTRIBUTES: %w", err)
	}
	for _, spec := range c.AttributeFlags {
		attr, err := ParseCustomAttribute(spec)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// ParseCustomAttribute parses one NAME=EXPR pair. The expression may itself
// contain '='.
func ParseCustomAttribute(spec string) (CustomAttribute, error) {
	name, expression, ok := strings.Cut(spec, "=")
	if !ok {
		return CustomAttribute{}, fmt.Errorf("invalid attribute format %q: expected NAME=EXPR", spec)
	}
	name = strings.TrimSpace(name)
	expression = strings.TrimSpace(expression)
	if name == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: name cannot be empty", spec)
	}
	if expression == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: expression cannot be empty", spec)
	}
	return CustomAttribute{Name: name, Expression: expression}, nil
}

// ParseAttributeString parses semicolon separated NAME=EXPR pairs. Empty
// sections are skipped.
func ParseAttributeString(s string) ([]CustomAttribute, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var attrs []CustomAttribute
	for _, section := range strings.Split(s, ";") {
		if strings.TrimSpace(section) == "" {
			continue
		}
		attr, err := ParseCustomAttribute(section)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

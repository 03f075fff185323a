package debugger

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadConfig.
const (
	EnvEnabled    = "DBUG_ENABLED"
	EnvConfig     = "DBUG_CONFIG"
	EnvSegmentDir = "DBUG_SEGMENT_DIR"
	EnvLogLevel   = "DBUG_LOG_LEVEL"
	EnvArchiveDir = "DBUG_ARCHIVE_DIR"
	EnvTimeout    = "DBUG_RESPONSE_TIMEOUT"
)

const (
	defaultSegmentSize       = 8192
	defaultMaxBatchSize      = 10
	defaultFlushInterval     = 100 * time.Millisecond
	defaultResponseTimeout   = 5000 * time.Millisecond
	defaultPollInterval      = 10 * time.Millisecond
	defaultDrainWait         = 50 * time.Millisecond
	defaultCompressThreshold = 512
	defaultDisplayDepth      = 3
	defaultMaxRetainedTasks  = 1024
	defaultExprCacheSize     = 256
)

// BreakpointConfig describes a breakpoint loaded from configuration.
type BreakpointConfig struct {
	File      string `yaml:"file"`
	Line      uint32 `yaml:"line"`
	Column    uint32 `yaml:"column,omitempty"`
	Condition string `yaml:"condition,omitempty"`
	// HitCount is one of "==N", ">N", or "%N".
	HitCount string `yaml:"hit_count,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Config holds the settings shared by the target runtime and the controller.
type Config struct {
	Enabled bool `yaml:"enabled"`

	SegmentDir        string        `yaml:"segment_dir"`
	SegmentSize       int           `yaml:"segment_size"`
	MaxBatchSize      int           `yaml:"max_batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	DrainWait         time.Duration `yaml:"drain_wait"`
	CompressThreshold int           `yaml:"compress_threshold"`

	DisplayDepth       int                `yaml:"display_depth"`
	BreakOnDebugPoints bool               `yaml:"break_on_debug_points"`
	Breakpoints        []BreakpointConfig `yaml:"breakpoints"`
	Watches            []string           `yaml:"watches"`
	ExprCacheSize      int                `yaml:"expr_cache_size"`

	MaxRetainedTasks int    `yaml:"max_retained_tasks"`
	ArchiveDir       string `yaml:"archive_dir"`
	HistoryDir       string `yaml:"history_dir"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		SegmentDir:         os.TempDir(),
		SegmentSize:        defaultSegmentSize,
		MaxBatchSize:       defaultMaxBatchSize,
		FlushInterval:      defaultFlushInterval,
		ResponseTimeout:    defaultResponseTimeout,
		PollInterval:       defaultPollInterval,
		DrainWait:          defaultDrainWait,
		CompressThreshold:  defaultCompressThreshold,
		DisplayDepth:       defaultDisplayDepth,
		BreakOnDebugPoints: true,
		ExprCacheSize:      defaultExprCacheSize,
		MaxRetainedTasks:   defaultMaxRetainedTasks,
		LogLevel:           "warn",
	}
}

// LoadConfig builds the config from defaults, the optional YAML file named by DBUG_CONFIG, and
// DBUG_* environment overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(EnvConfig); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// MergeFile overlays the YAML file at path onto the config.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newError(KindIO, "load config", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return newError(KindSession, "load config", "invalid yaml in "+path, err)
	}
	return nil
}

// ApplyEnv overlays DBUG_* variables resolved through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			// any non-boolean value still counts as an opt-in
			enabled = true
		}
		c.Enabled = enabled
	}
	if v := getenv(EnvSegmentDir); v != "" {
		c.SegmentDir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv(EnvArchiveDir); v != "" {
		c.ArchiveDir = v
	}
	if v := getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return newError(KindSession, "load config", EnvTimeout, err)
		}
		c.ResponseTimeout = d
	}
	return nil
}

// Validate rejects settings the channel and registries cannot operate with.
func (c *Config) Validate() error {
	switch {
	case c.SegmentSize < 64:
		return newError(KindSession, "validate config", fmt.Sprintf("segment_size %d too small", c.SegmentSize), nil)
	case c.MaxBatchSize < 1:
		return newError(KindSession, "validate config", "max_batch_size must be positive", nil)
	case c.FlushInterval <= 0:
		return newError(KindSession, "validate config", "flush_interval must be positive", nil)
	case c.ResponseTimeout <= 0:
		return newError(KindSession, "validate config", "response_timeout must be positive", nil)
	case c.PollInterval <= 0:
		return newError(KindSession, "validate config", "poll_interval must be positive", nil)
	case c.DrainWait < 0:
		return newError(KindSession, "validate config", "drain_wait must not be negative", nil)
	case c.DisplayDepth < 1:
		return newError(KindSession, "validate config", "display_depth must be positive", nil)
	case c.MaxRetainedTasks < 0:
		return newError(KindSession, "validate config", "max_retained_tasks must not be negative", nil)
	}
	for _, bp := range c.Breakpoints {
		if bp.File == "" || bp.Line == 0 {
			return newError(KindSession, "validate config", "breakpoint requires file and line", nil)
		}
		if bp.HitCount != "" {
			if _, err := ParseHitCountCondition(bp.HitCount); err != nil {
				return err
			}
		}
	}
	return nil
}

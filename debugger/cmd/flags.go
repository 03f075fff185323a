package cmd

import (
	"errors"
	"time"

	"github.com/spf13/pflag"

	"github.com/bahdotsh/dbug/debugger"
)

// Options holds the settings shared by the dbug subcommands.
type Options struct {
	ConfigPath       string
	SegmentDir       string
	LogLevel         string
	Timeout          time.Duration
	HistoryDir       string
	ArchiveDir       string
	SessionID        string
	ReportJsonFile   string
	ReportChartsFile string
	Script           string
	Interactive      bool
	TraceFile        string
	Quiet            bool
}

// BindFlags registers the persistent flags on fs.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigPath, "config", "", "YAML configuration file, also passed to the target")
	fs.StringVar(&o.SegmentDir, "segment-dir", "", "Directory holding the shared memory segments")
	fs.StringVar(&o.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.DurationVar(&o.Timeout, "timeout", 0, "How long a paused target waits for a response")
	fs.StringVar(&o.HistoryDir, "history-dir", "", "Directory to persist event history, in memory when empty")
	fs.StringVar(&o.ArchiveDir, "archive-dir", "", "Directory the target archives finished async tasks to")
	fs.StringVar(&o.ReportJsonFile, "json", "dbugreport.json", "File to output session details")
	fs.StringVar(&o.ReportChartsFile, "charts", "", "File to output the session overview chart image (png, jpg, svg)")
}

// BindRunFlags registers the flags specific to running a target.
func (o *Options) BindRunFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Script, "script", "", "Comma separated responses to pauses: c, n, s, o, eval:<expr>")
	fs.BoolVarP(&o.Interactive, "interactive", "i", false, "Prompt for a command at each pause")
	fs.StringVar(&o.TraceFile, "trace-file", "", "File to also write the event trace to")
	fs.StringVar(&o.SessionID, "session", "", "Session id to record the history under, generated when empty")
	fs.BoolVarP(&o.Quiet, "quiet", "q", false, "Do not print the event trace")
}

// BuildConfig resolves the debugger config: defaults, then the config file, then DBUG_*
// variables resolved through getenv, then flags.
func (o *Options) BuildConfig(getenv func(string) string) (debugger.Config, error) {
	if o.Script != "" && o.Interactive {
		return debugger.Config{}, errors.New("--script and --interactive are mutually exclusive")
	}

	cfg := debugger.DefaultConfig()
	if o.ConfigPath != "" {
		if err := cfg.MergeFile(o.ConfigPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, err
	}

	if o.SegmentDir != "" {
		cfg.SegmentDir = o.SegmentDir
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Timeout > 0 {
		cfg.ResponseTimeout = o.Timeout
	}
	if o.HistoryDir != "" {
		cfg.HistoryDir = o.HistoryDir
	}
	if o.ArchiveDir != "" {
		cfg.ArchiveDir = o.ArchiveDir
	}
	return cfg, cfg.Validate()
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultTrackerTimeout = 10 * time.Second
	DefaultFormat         = FormatText
	DefaultLogLevel       = "info"
)

// Report output formats.
const (
	FormatText = "text"
	FormatYAML = "yaml"
)

// Stage modes.
const (
	ModeBackend = "backend"
	ModeLocal   = "local"
)

// Config is the top-level configuration.
type Config struct {
	Tracker TrackerConfig `yaml:"tracker"`
	Report  ReportConfig  `yaml:"report"`
	Runs    []RunConfig   `yaml:"runs"`
}

// TrackerConfig locates the job-tracking service that owns backend counters.
type TrackerConfig struct {
	// Endpoint is the base URL; counters are read from
	// <endpoint>/jobs/<job-id>/counters.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds each request to the tracking service.
	Timeout time.Duration `yaml:"timeout"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies how requests to the tracking service authenticate.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header carries the API key when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// TLSConfig holds TLS dial options for the tracking service.
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ReportConfig controls how and when reports are produced.
type ReportConfig struct {
	// Schedule is a cron spec ("*/5 * * * *", "@every 1m"). Empty renders
	// once and exits.
	Schedule string `yaml:"schedule"`

	// Format is text (human report) or yaml (run maps).
	Format string `yaml:"format"`

	LogLevel string `yaml:"log_level"`
}

// Level returns the configured slog level.
func (r ReportConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(r.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// RunConfig describes one pipeline run.
type RunConfig struct {
	Name    string        `yaml:"name"`
	Sources []string      `yaml:"sources"`
	Sinks   []string      `yaml:"sinks"`
	Stages  []StageConfig `yaml:"stages"`
}

// StageConfig describes one stage of a run.
type StageConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Mode is backend (default) or local.
	Mode string `yaml:"mode"`

	// JobID is the external job id of a backend stage. A stage that was
	// never submitted has none.
	JobID string `yaml:"job_id"`

	// Counters is the group -> name -> value table of a local stage.
	Counters map[string]map[string]int64 `yaml:"counters"`

	// Tags binds symbolic counter tags to a group and name.
	Tags map[string]TagBinding `yaml:"tags"`
}

// TagBinding is the counter a symbolic tag resolves to.
type TagBinding struct {
	Group string `yaml:"group"`
	Name  string `yaml:"name"`
}

// Run returns the run with the given name.
func (c *Config) Run(name string) (RunConfig, bool) {
	for _, r := range c.Runs {
		if r.Name == name {
			return r, true
		}
	}
	return RunConfig{}, false
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	for i := range cfg.Runs {
		for j := range cfg.Runs[i].Stages {
			if cfg.Runs[i].Stages[j].Mode == "" {
				cfg.Runs[i].Stages[j].Mode = ModeBackend
			}
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Tracker: TrackerConfig{Timeout: DefaultTrackerTimeout},
		Report: ReportConfig{
			Format:   DefaultFormat,
			LogLevel: DefaultLogLevel,
		},
	}
}

// validate checks required fields and enums, collecting every violation.
func validate(cfg *Config) error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Tracker.Timeout <= 0 {
		add("tracker.timeout must be positive")
	}
	switch cfg.Tracker.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		add("tracker.auth: unknown mode %q", cfg.Tracker.Auth.Mode)
	}

	switch cfg.Report.Format {
	case FormatText, FormatYAML:
	default:
		add("report.format: unknown format %q", cfg.Report.Format)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Report.LogLevel)); err != nil {
		add("report.log_level: unknown level %q", cfg.Report.LogLevel)
	}
	if cfg.Report.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Report.Schedule); err != nil {
			add("report.schedule: %w", err)
		}
	}

	needTracker := false
	names := make(map[string]bool, len(cfg.Runs))
	for i, run := range cfg.Runs {
		if run.Name != "" {
			if names[run.Name] {
				add("runs[%d]: duplicate name %q", i, run.Name)
			}
			names[run.Name] = true
		}
		ids := make(map[string]bool, len(run.Stages))
		for j, st := range run.Stages {
			where := fmt.Sprintf("runs[%d].stages[%d]", i, j)
			if st.ID == "" {
				add("%s: id is required", where)
			} else if ids[st.ID] {
				add("%s: duplicate id %q", where, st.ID)
			}
			ids[st.ID] = true

			switch st.Mode {
			case ModeBackend:
				needTracker = true
				if len(st.Counters) > 0 {
					add("%s %q: counters are only allowed on local stages", where, st.ID)
				}
			case ModeLocal:
				if st.JobID != "" {
					add("%s %q: job_id is only allowed on backend stages", where, st.ID)
				}
			default:
				add("%s %q: unknown mode %q", where, st.ID, st.Mode)
			}

			for tag, b := range st.Tags {
				if b.Group == "" || b.Name == "" {
					add("%s %q: tag %q needs group and name", where, st.ID, tag)
				}
			}
		}
	}
	if needTracker && cfg.Tracker.Endpoint == "" {
		add("tracker.endpoint is required when runs have backend stages")
	}
	return errs
}

// Errors splits a Load error into the individual validation failures.
func Errors(err error) []error {
	if inner := errors.Unwrap(err); inner != nil {
		return multierr.Errors(inner)
	}
	return multierr.Errors(err)
}

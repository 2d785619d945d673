// Package config loads the load test configuration from a file, the
// environment and command-line flags.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Mode string

const (
	ModeBurst Mode = "burst"
	ModeRamp  Mode = "ramp"
)

// StatsSource selects how container usage is sampled.
type StatsSource string

const (
	StatsSourceCLI  StatsSource = "cli"
	StatsSourceAPI  StatsSource = "api"
	StatsSourceNone StatsSource = "none"
)

const (
	DefaultTarget           = "http://localhost:3000"
	DefaultSessions         = 20
	DefaultOutputDir        = "./reports"
	DefaultRampInterval     = 5 * time.Second
	DefaultRampBatchSize    = 2
	DefaultTimeout          = 30 * time.Second
	DefaultMonitorInterval  = 2 * time.Second
	DefaultContainerFilter  = "coderunner"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultHealthTimeout    = 5 * time.Second
	DefaultLogLevel         = "info"
)

type Config struct {
	TargetURL        string            `mapstructure:"target"`
	Sessions         int               `mapstructure:"sessions"`
	OutputDir        string            `mapstructure:"output"`
	Mode             Mode              `mapstructure:"mode"`
	RampInterval     time.Duration     `mapstructure:"ramp_interval"`
	RampBatchSize    int               `mapstructure:"ramp_batch_size"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	MonitorInterval  time.Duration     `mapstructure:"monitor_interval"`
	ContainerFilter  string            `mapstructure:"container_filter"`
	StatsSource      StatsSource       `mapstructure:"stats_source"`
	ProgramsFile     string            `mapstructure:"programs"`
	Languages        []string          `mapstructure:"languages"`
	ConnectRate      float64           `mapstructure:"connect_rate"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`
	HealthCheck      bool              `mapstructure:"health_check"`
	HealthTimeout    time.Duration     `mapstructure:"health_timeout"`
	Headers          map[string]string `mapstructure:"headers"`
	Dashboard        bool              `mapstructure:"dashboard"`
	JSONOutput       bool              `mapstructure:"json_output"`
	LogLevel         string            `mapstructure:"log_level"`
	NoColor          bool              `mapstructure:"no_color"`
	Thresholds       []string          `mapstructure:"thresholds"`
	ConfigFile       string            `mapstructure:"-"`
	Tracing          TracingConfig     `mapstructure:"tracing"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Propagate   bool    `mapstructure:"propagate"`
}

// Enabled reports whether spans should be created and exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || t.Propagate
}

// ShouldPropagate reports whether W3C trace headers are sent to the target.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Propagate || strings.TrimSpace(t.Endpoint) != ""
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		TargetURL:        DefaultTarget,
		Sessions:         DefaultSessions,
		OutputDir:        DefaultOutputDir,
		Mode:             ModeBurst,
		RampInterval:     DefaultRampInterval,
		RampBatchSize:    DefaultRampBatchSize,
		Timeout:          DefaultTimeout,
		MonitorInterval:  DefaultMonitorInterval,
		ContainerFilter:  DefaultContainerFilter,
		StatsSource:      StatsSourceCLI,
		HandshakeTimeout: DefaultHandshakeTimeout,
		HealthCheck:      true,
		HealthTimeout:    DefaultHealthTimeout,
		Headers:          map[string]string{},
		LogLevel:         DefaultLogLevel,
		Tracing:          TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.TargetURL) == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	} else if u, err := url.Parse(c.TargetURL); err != nil || u.Host == "" {
		issues = append(issues, fmt.Sprintf("target %q is not a valid URL", c.TargetURL))
	} else {
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "ws", "wss":
		default:
			issues = append(issues, fmt.Sprintf("target scheme %q is not supported (use http, https, ws or wss)", u.Scheme))
		}
	}

	if c.Sessions < 1 {
		issues = append(issues, "sessions must be >= 1")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		issues = append(issues, "output directory is required")
	}

	switch c.Mode {
	case ModeBurst:
	case ModeRamp:
		if c.RampBatchSize < 1 {
			issues = append(issues, "ramp-batch-size must be >= 1")
		}
		if c.RampInterval < 0 {
			issues = append(issues, "ramp-interval must be >= 0")
		}
	default:
		issues = append(issues, fmt.Sprintf("mode %q is not supported (use burst or ramp)", c.Mode))
	}

	if c.Timeout <= 0 {
		issues = append(issues, "timeout must be > 0")
	}
	if c.MonitorInterval <= 0 {
		issues = append(issues, "monitor-interval must be > 0")
	}
	if c.HandshakeTimeout <= 0 {
		issues = append(issues, "handshake-timeout must be > 0")
	}
	if c.HealthCheck && c.HealthTimeout <= 0 {
		issues = append(issues, "health-timeout must be > 0")
	}
	if c.ConnectRate < 0 {
		issues = append(issues, "connect-rate must be >= 0")
	}

	switch c.StatsSource {
	case StatsSourceCLI, StatsSourceAPI, StatsSourceNone:
	default:
		issues = append(issues, fmt.Sprintf("stats-source %q is not supported (use cli, api or none)", c.StatsSource))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level %q is not supported", c.LogLevel))
	}

	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported (use grpc or http)", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

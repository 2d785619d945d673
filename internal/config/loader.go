package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads, e.g.
// LOADTEST_TARGET or LOADTEST_TRACING_ENDPOINT.
const EnvPrefix = "LOADTEST"

// envKeys are the settings that may come from the environment.
var envKeys = []string{
	"target", "sessions", "output", "mode", "ramp_interval", "ramp_batch_size",
	"timeout", "monitor_interval", "container_filter", "stats_source",
	"programs", "languages", "connect_rate", "handshake_timeout",
	"health_check", "health_timeout", "dashboard", "json_output", "log_level",
	"no_color", "thresholds",
	"tracing.endpoint", "tracing.protocol", "tracing.insecure",
	"tracing.sample_rate", "tracing.service_name", "tracing.propagate",
}

// Loader handles loading configuration from files, the environment and
// command-line arguments, in increasing order of precedence.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	cfgViper.SetEnvPrefix(EnvPrefix)
	cfgViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, key := range envKeys {
		if err := cfgViper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.TargetURL = strings.TrimRight(strings.TrimSpace(cfg.TargetURL), "/")
	cfg.Mode = Mode(strings.ToLower(string(cfg.Mode)))
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return &cfg, nil
}

// applyConfigSettings applies settings from a config file or the environment.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target", "server"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "sessions", "students"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		cfg.Sessions = val
	}

	if raw, ok := lookupSetting(settings, "output", "output_dir", "outputDir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		cfg.OutputDir = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "ramp_interval", "rampInterval", "ramp-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("ramp_interval: %w", err)
		}
		cfg.RampInterval = dur
	}

	if raw, ok := lookupSetting(settings, "ramp_batch_size", "rampBatchSize", "ramp-batch-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("ramp_batch_size: %w", err)
		}
		cfg.RampBatchSize = val
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "monitor_interval", "monitorInterval", "monitor-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("monitor_interval: %w", err)
		}
		cfg.MonitorInterval = dur
	}

	if raw, ok := lookupSetting(settings, "container_filter", "containerFilter", "container-filter"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("container_filter: %w", err)
		}
		cfg.ContainerFilter = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "stats_source", "statsSource", "stats-source"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("stats_source: %w", err)
		}
		cfg.StatsSource = StatsSource(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "programs", "programs_file", "programsFile"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("programs: %w", err)
		}
		cfg.ProgramsFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "languages"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("languages: %w", err)
		}
		cfg.Languages = normalizeList(val)
	}

	if raw, ok := lookupSetting(settings, "connect_rate", "connectRate", "connect-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("connect_rate: %w", err)
		}
		cfg.ConnectRate = val
	}

	if raw, ok := lookupSetting(settings, "handshake_timeout", "handshakeTimeout", "handshake-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("handshake_timeout: %w", err)
		}
		cfg.HandshakeTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := cast.ToStringMapStringE(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "health_check", "healthCheck", "health-check"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("health_check: %w", err)
		}
		cfg.HealthCheck = val
	}

	if raw, ok := lookupSetting(settings, "health_timeout", "healthTimeout", "health-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("health_timeout: %w", err)
		}
		cfg.HealthTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "log_level", "logLevel", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}

	if raw, ok := lookupSetting(settings, "no_color", "noColor", "no-color"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("no_color: %w", err)
		}
		cfg.NoColor = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = val
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func applyTracingSettings(tc *TracingConfig, raw interface{}) error {
	settings, err := cast.ToStringMapE(raw)
	if err != nil {
		return err
	}

	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = val
	}
	return nil
}

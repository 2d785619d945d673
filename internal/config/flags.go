package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loadtest",
		Short:         "Load test a code execution service over Socket.IO",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Target and load shape
	flags.StringP("target", "s", DefaultTarget, "Base URL of the code execution service")
	flags.String("server", "", "Alias for --target")
	flags.IntP("sessions", "n", DefaultSessions, "Number of simulated users")
	flags.Int("students", 0, "Alias for --sessions")
	flags.StringP("mode", "m", string(ModeBurst), "Test mode: 'burst' (all at once) or 'ramp' (gradual)")
	flags.String("ramp-interval", "5", "Time between ramp batches (seconds or a duration such as 1500ms)")
	flags.Int("ramp-batch-size", DefaultRampBatchSize, "Users added per ramp batch")
	flags.Duration("timeout", DefaultTimeout, "Per-execution timeout")
	flags.Float64("connect-rate", 0, "Maximum new connections per second (0 means unlimited)")
	flags.Duration("handshake-timeout", DefaultHandshakeTimeout, "Socket.IO handshake timeout")
	flags.StringSlice("header", nil, "Additional handshake header in key=value form")

	// Corpus
	flags.String("programs", "", "Path to a YAML file of sample programs (default: built-in corpus)")
	flags.StringSlice("languages", nil, "Restrict the corpus to these languages (repeatable or comma separated)")

	// Resource monitor
	flags.Duration("monitor-interval", DefaultMonitorInterval, "Container sampling interval")
	flags.String("container-filter", DefaultContainerFilter, "Case-insensitive container name substring to monitor")
	flags.String("stats-source", string(StatsSourceCLI), "Container stats source: 'cli', 'api' or 'none'")

	// Preflight
	flags.Bool("health-check", true, "Probe <target>/health before starting")
	flags.Duration("health-timeout", DefaultHealthTimeout, "Health probe timeout")

	// Output
	flags.StringP("output", "o", DefaultOutputDir, "Directory for JSON and HTML reports")
	flags.Bool("json-output", false, "Print the final report as JSON on stdout")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.Bool("no-color", false, "Disable colored console output")
	flags.String("config", "", "Path to configuration file (JSON, YAML or TOML)")

	// Thresholds
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g. 'exec_time:p99 < 5000')")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.String("tracing-service-name", "", "Service name reported in traces")
	flags.Bool("tracing-propagate", false, "Send W3C trace headers to the target")

	_ = flags.MarkHidden("server")
	_ = flags.MarkHidden("students")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n\nUsage: %s\n\nFlags:\n", cmd.Short, cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("server") {
		val, err := fs.GetString("server")
		if err != nil {
			return err
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}
	if fs.Changed("students") {
		val, err := fs.GetInt("students")
		if err != nil {
			return err
		}
		cfg.Sessions = val
	}
	if fs.Changed("sessions") {
		val, err := fs.GetInt("sessions")
		if err != nil {
			return err
		}
		cfg.Sessions = val
	}
	if fs.Changed("mode") {
		val, err := fs.GetString("mode")
		if err != nil {
			return err
		}
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("ramp-interval") {
		val, err := fs.GetString("ramp-interval")
		if err != nil {
			return err
		}
		dur, err := asDuration(val)
		if err != nil {
			return fmt.Errorf("ramp-interval: %w", err)
		}
		cfg.RampInterval = dur
	}
	if fs.Changed("ramp-batch-size") {
		val, err := fs.GetInt("ramp-batch-size")
		if err != nil {
			return err
		}
		cfg.RampBatchSize = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("connect-rate") {
		val, err := fs.GetFloat64("connect-rate")
		if err != nil {
			return err
		}
		cfg.ConnectRate = val
	}
	if fs.Changed("handshake-timeout") {
		val, err := fs.GetDuration("handshake-timeout")
		if err != nil {
			return err
		}
		cfg.HandshakeTimeout = val
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	if fs.Changed("programs") {
		val, err := fs.GetString("programs")
		if err != nil {
			return err
		}
		cfg.ProgramsFile = strings.TrimSpace(val)
	}
	if fs.Changed("languages") {
		val, err := fs.GetStringSlice("languages")
		if err != nil {
			return err
		}
		cfg.Languages = normalizeList(val)
	}

	if fs.Changed("monitor-interval") {
		val, err := fs.GetDuration("monitor-interval")
		if err != nil {
			return err
		}
		cfg.MonitorInterval = val
	}
	if fs.Changed("container-filter") {
		val, err := fs.GetString("container-filter")
		if err != nil {
			return err
		}
		cfg.ContainerFilter = strings.TrimSpace(val)
	}
	if fs.Changed("stats-source") {
		val, err := fs.GetString("stats-source")
		if err != nil {
			return err
		}
		cfg.StatsSource = StatsSource(strings.ToLower(strings.TrimSpace(val)))
	}

	if fs.Changed("health-check") {
		val, err := fs.GetBool("health-check")
		if err != nil {
			return err
		}
		cfg.HealthCheck = val
	}
	if fs.Changed("health-timeout") {
		val, err := fs.GetDuration("health-timeout")
		if err != nil {
			return err
		}
		cfg.HealthTimeout = val
	}

	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.OutputDir = strings.TrimSpace(val)
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("no-color") {
		val, err := fs.GetBool("no-color")
		if err != nil {
			return err
		}
		cfg.NoColor = val
	}

	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = val
	}

	return nil
}

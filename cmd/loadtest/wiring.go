package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coderunner/loadtest/internal/config"
	"github.com/coderunner/loadtest/internal/dashboard"
	"github.com/coderunner/loadtest/internal/monitor"
	"github.com/coderunner/loadtest/internal/orchestrator"
	"github.com/coderunner/loadtest/internal/session"
	"github.com/coderunner/loadtest/internal/socketio"
	"github.com/coderunner/loadtest/internal/tracing"
)

func makeHeaders(values map[string]string) http.Header {
	headers := http.Header{}
	for key, value := range values {
		headers.Set(key, value)
	}
	return headers
}

// newDialer returns the channel factory used for every session. Trace
// context of the creating phase is sent on the websocket upgrade when
// propagation is enabled.
func newDialer(cfg config.Config, headers http.Header, propagate bool) orchestrator.Dialer {
	return func(ctx context.Context, name string) session.Channel {
		h := headers.Clone()
		if h == nil {
			h = http.Header{}
		}
		if propagate {
			tracing.InjectHTTPHeaders(ctx, h)
		}
		return socketio.NewClient(socketio.Config{
			URL:              cfg.TargetURL,
			Headers:          h,
			HandshakeTimeout: cfg.HandshakeTimeout,
		})
	}
}

// newSampler picks the container stats source. The returned close func is
// always safe to call.
func newSampler(source config.StatsSource) (monitor.Sampler, func(), error) {
	switch config.StatsSource(strings.ToLower(string(source))) {
	case config.StatsSourceNone:
		return nil, func() {}, nil
	case config.StatsSourceAPI:
		s, err := monitor.NewAPISampler()
		if err != nil {
			return nil, nil, fmt.Errorf("docker API sampler: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case config.StatsSourceCLI, "":
		return monitor.NewCLISampler(""), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown stats source %q", source)
	}
}

func dashboardConfig(cfg config.Config) dashboard.TestConfig {
	return dashboard.TestConfig{
		Target:        cfg.TargetURL,
		Sessions:      cfg.Sessions,
		Mode:          string(cfg.Mode),
		RampBatchSize: cfg.RampBatchSize,
		RampInterval:  cfg.RampInterval,
		Timeout:       cfg.Timeout,
		ConnectRate:   cfg.ConnectRate,
		ConfigFile:    cfg.ConfigFile,
	}
}

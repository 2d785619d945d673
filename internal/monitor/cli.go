package monitor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	statsFormat       = "{{.Name}}|{{.CPUPerc}}|{{.MemUsage}}"
	cliSampleTimeout  = 10 * time.Second
	defaultDockerPath = "docker"
)

// CLISampler shells out to `docker stats --no-stream`.
type CLISampler struct {
	binary  string
	timeout time.Duration
}

// NewCLISampler returns a sampler using the docker binary at path, or
// "docker" from PATH when empty.
func NewCLISampler(path string) *CLISampler {
	if path == "" {
		path = defaultDockerPath
	}
	return &CLISampler{binary: path, timeout: cliSampleTimeout}
}

// Sample runs one docker stats query. Lines that cannot be parsed are skipped.
func (s *CLISampler) Sample(ctx context.Context) ([]ContainerUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.binary, "stats", "--no-stream", "--format", statsFormat)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("docker stats: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("docker stats: %w", err)
	}
	return ParseStats(stdout.String()), nil
}

// ParseStats parses `docker stats` output, skipping blank and malformed lines.
func ParseStats(out string) []ContainerUsage {
	var usage []ContainerUsage
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		u, err := ParseStatsLine(line)
		if err != nil {
			continue
		}
		usage = append(usage, u)
	}
	return usage
}

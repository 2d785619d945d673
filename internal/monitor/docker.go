package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// APISampler reads container stats from the Docker Engine API.
type APISampler struct {
	client *client.Client
}

// NewAPISampler connects using the standard DOCKER_HOST environment.
func NewAPISampler() (*APISampler, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &APISampler{client: cli}, nil
}

// Close releases the underlying client.
func (s *APISampler) Close() error {
	return s.client.Close()
}

// Sample lists running containers and takes a one-shot stats reading of each.
// A container that disappears between list and stats is skipped.
func (s *APISampler) Sample(ctx context.Context) ([]ContainerUsage, error) {
	containers, err := s.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	usage := make([]ContainerUsage, 0, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		resp, err := s.client.ContainerStatsOneShot(ctx, c.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		u, err := decodeStats(name, resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}
		usage = append(usage, u)
	}
	return usage, nil
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

type statsPayload struct {
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64            `json:"usage"`
		Stats map[string]uint64 `json:"stats"`
	} `json:"memory_stats"`
}

// decodeStats computes CPU% and memory the way `docker stats` does: CPU from
// the cpu/precpu deltas scaled by online CPUs, memory as usage minus the
// inactive file cache.
func decodeStats(name string, r io.Reader) (ContainerUsage, error) {
	var p statsPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return ContainerUsage{}, fmt.Errorf("decode stats for %s: %w", name, err)
	}

	var cpu float64
	cpuDelta := float64(p.CPUStats.CPUUsage.TotalUsage) - float64(p.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(p.CPUStats.SystemUsage) - float64(p.PreCPUStats.SystemUsage)
	online := float64(p.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(p.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && sysDelta > 0 {
		cpu = cpuDelta / sysDelta * online * 100
	}

	mem := p.MemoryStats.Usage
	cache, ok := p.MemoryStats.Stats["inactive_file"]
	if !ok {
		cache = p.MemoryStats.Stats["total_inactive_file"]
	}
	if cache < mem {
		mem -= cache
	}

	return ContainerUsage{
		Name:       name,
		CPUPercent: cpu,
		MemoryMB:   float64(mem) / (1024 * 1024),
	}, nil
}

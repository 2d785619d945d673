package monitor

import (
	"fmt"
	"strconv"
	"strings"
)

// memoryUnits maps docker size suffixes to their MB multiplier. Binary and
// decimal spellings are treated alike, the way `docker stats` output is read.
var memoryUnits = map[string]float64{
	"GiB": 1024,
	"GB":  1024,
	"MiB": 1,
	"MB":  1,
	"KiB": 1.0 / 1024,
	"kB":  1.0 / 1024,
	"KB":  1.0 / 1024,
	"B":   1.0 / (1024 * 1024),
}

// ParseMemory converts a docker memory figure such as "50.5MiB" or
// "1.2GiB / 7.6GiB" to megabytes. Only the used part of a "used / limit"
// pair is read. An unrecognised suffix yields 0 without error.
func ParseMemory(s string) (float64, error) {
	used := strings.TrimSpace(strings.SplitN(s, "/", 2)[0])
	if used == "" {
		return 0, fmt.Errorf("empty memory value")
	}

	split := strings.IndexFunc(used, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	})
	if split < 0 {
		split = len(used)
	}
	v, err := strconv.ParseFloat(used[:split], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory value %q: %w", s, err)
	}

	factor, ok := memoryUnits[strings.TrimSpace(used[split:])]
	if !ok {
		return 0, nil
	}
	return v * factor, nil
}

// ParseCPU converts "12.34%" to 12.34.
func ParseCPU(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu value %q: %w", s, err)
	}
	return v, nil
}

// ParseStatsLine parses one `name|cpu%|mem usage / limit` line.
func ParseStatsLine(line string) (ContainerUsage, error) {
	parts := strings.Split(strings.TrimSpace(line), "|")
	if len(parts) < 3 {
		return ContainerUsage{}, fmt.Errorf("malformed stats line %q", line)
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return ContainerUsage{}, fmt.Errorf("stats line without container name")
	}
	cpu, err := ParseCPU(parts[1])
	if err != nil {
		return ContainerUsage{}, err
	}
	mem, err := ParseMemory(parts[2])
	if err != nil {
		return ContainerUsage{}, err
	}
	return ContainerUsage{Name: name, CPUPercent: cpu, MemoryMB: mem}, nil
}

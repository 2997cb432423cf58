package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Hardware reports the static hardware and OS inventory of the host.
type Hardware struct {
	schedule time.Duration
}

// hardwareFacts is the payload shape for the hardware category.
type hardwareFacts struct {
	Hostname      string `json:"hostname"`
	MachineID     string `json:"machine_id,omitempty"`
	Architecture  string `json:"architecture"`
	KernelVersion string `json:"kernel_version,omitempty"`
	OSRelease     string `json:"os_release,omitempty"`
	CPUCount      int    `json:"cpu_count"`
	MemoryKB      int64  `json:"memory_kb,omitempty"`
}

// NewHardware creates the hardware collector with the given cadence.
func NewHardware(schedule time.Duration) *Hardware {
	return &Hardware{schedule: schedule}
}

// Name implements Collector.
func (h *Hardware) Name() string {
	return "hardware"
}

// Schedule implements Collector.
func (h *Hardware) Schedule() time.Duration {
	return h.schedule
}

// Collect implements Collector.
func (h *Hardware) Collect(_ context.Context) (json.RawMessage, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	facts := hardwareFacts{
		Hostname:      hostname,
		MachineID:     readTrimmed("/etc/machine-id"),
		Architecture:  runtime.GOARCH,
		KernelVersion: readTrimmed("/proc/sys/kernel/osrelease"),
		CPUCount:      runtime.NumCPU(),
	}

	if data, readErr := os.ReadFile("/etc/os-release"); readErr == nil {
		facts.OSRelease = parseOSRelease(data)
	}

	if data, readErr := os.ReadFile("/proc/meminfo"); readErr == nil {
		facts.MemoryKB = parseMemTotal(data)
	}

	payload, err := json.Marshal(facts)
	if err != nil {
		return nil, fmt.Errorf("encode hardware facts: %w", err)
	}

	return payload, nil
}

// readTrimmed returns the trimmed contents of a small file, empty on error.
func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// parseOSRelease extracts PRETTY_NAME from /etc/os-release contents.
func parseOSRelease(data []byte) string {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		if value, found := strings.CutPrefix(line, "PRETTY_NAME="); found {
			return strings.Trim(value, `"`)
		}
	}

	return ""
}

// parseMemTotal extracts MemTotal in kB from /proc/meminfo contents.
func parseMemTotal(data []byte) int64 {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}

		value, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}

		return value
	}

	return 0
}

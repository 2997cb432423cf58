package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// Processes reports the processes currently running on the host.
type Processes struct {
	schedule time.Duration
}

// processFact describes one running process.
type processFact struct {
	PID        int    `json:"pid"`
	ParentPID  int    `json:"parent_pid"`
	Executable string `json:"executable"`
}

// NewProcesses creates the process collector with the given cadence.
func NewProcesses(schedule time.Duration) *Processes {
	return &Processes{schedule: schedule}
}

// Name implements Collector.
func (p *Processes) Name() string {
	return "processes"
}

// Schedule implements Collector.
func (p *Processes) Schedule() time.Duration {
	return p.schedule
}

// Collect implements Collector.
func (p *Processes) Collect(_ context.Context) (json.RawMessage, error) {
	running, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	facts := make([]processFact, 0, len(running))
	for _, proc := range running {
		facts = append(facts, processFact{
			PID:        proc.Pid(),
			ParentPID:  proc.PPid(),
			Executable: proc.Executable(),
		})
	}

	// Stable ordering keeps fingerprints meaningful across collections.
	sort.Slice(facts, func(i, j int) bool {
		return facts[i].PID < facts[j].PID
	})

	payload, err := json.Marshal(facts)
	if err != nil {
		return nil, fmt.Errorf("encode process facts: %w", err)
	}

	return payload, nil
}

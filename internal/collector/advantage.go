package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// Advantage reports the Ubuntu Pro (advantage) subscription status.
type Advantage struct {
	schedule time.Duration
}

// NewAdvantage creates the advantage collector with the given cadence.
func NewAdvantage(schedule time.Duration) *Advantage {
	return &Advantage{schedule: schedule}
}

// Name implements Collector.
func (a *Advantage) Name() string {
	return "advantage"
}

// Schedule implements Collector.
func (a *Advantage) Schedule() time.Duration {
	return a.schedule
}

// Collect implements Collector.
func (a *Advantage) Collect(ctx context.Context) (json.RawMessage, error) {
	output, err := exec.CommandContext(ctx, "pro", "status", "--format", "json").Output()
	if err != nil {
		// Older releases ship the tool as "ua".
		output, err = exec.CommandContext(ctx, "ua", "status", "--format", "json").Output()
		if err != nil {
			return nil, fmt.Errorf("query advantage status: %w", err)
		}
	}

	if !json.Valid(output) {
		return nil, fmt.Errorf("advantage status produced invalid JSON")
	}

	return json.RawMessage(output), nil
}

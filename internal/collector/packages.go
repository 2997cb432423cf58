package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Packages reports the installed package inventory via dpkg.
type Packages struct {
	schedule time.Duration
}

// packageFact describes one installed package.
type packageFact struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewPackages creates the package collector with the given cadence.
func NewPackages(schedule time.Duration) *Packages {
	return &Packages{schedule: schedule}
}

// Name implements Collector.
func (p *Packages) Name() string {
	return "packages"
}

// Schedule implements Collector.
func (p *Packages) Schedule() time.Duration {
	return p.schedule
}

// Collect implements Collector.
func (p *Packages) Collect(ctx context.Context) (json.RawMessage, error) {
	output, err := exec.CommandContext(ctx,
		"dpkg-query", "-W", "-f", "${Package}\t${Version}\n").Output()
	if err != nil {
		return nil, fmt.Errorf("query dpkg: %w", err)
	}

	facts := parseDpkgOutput(output)

	payload, err := json.Marshal(facts)
	if err != nil {
		return nil, fmt.Errorf("encode package facts: %w", err)
	}

	return payload, nil
}

// parseDpkgOutput parses tab-separated name/version lines from dpkg-query.
func parseDpkgOutput(output []byte) []packageFact {
	facts := make([]packageFact, 0, 1024)

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		name, version, found := strings.Cut(scanner.Text(), "\t")
		if !found || name == "" {
			continue
		}

		facts = append(facts, packageFact{Name: name, Version: version})
	}

	return facts
}

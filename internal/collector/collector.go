package collector

import (
	"context"
	"encoding/json"
	"time"
)

// Collector is a pluggable unit producing one category of host fact data.
// New categories register with the reporter at startup without modifying it.
type Collector interface {
	// Name is the fact category (also the report category).
	Name() string
	// Schedule is the collection cadence; zero means the reporter default.
	Schedule() time.Duration
	// Collect produces the current snapshot for the category.
	Collect(ctx context.Context) (json.RawMessage, error)
}

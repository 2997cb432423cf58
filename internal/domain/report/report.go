package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Report is a timestamped snapshot of one monitored fact category.
// Reports are immutable once generated; the next report of the same category
// supersedes the previous one.
type Report struct {
	// Category names the fact category (hardware, processes, ...).
	Category string `json:"category"`
	// CollectedAt is when the snapshot was taken.
	CollectedAt time.Time `json:"collected_at"`
	// Payload is the category-specific fact data.
	Payload json.RawMessage `json:"payload"`
	// Fingerprint is the hex sha256 of the payload, used to suppress
	// retransmission of unchanged snapshots.
	Fingerprint string `json:"fingerprint"`
}

// New builds a report for the category, stamping it with the current time
// and the payload fingerprint.
func New(category string, payload json.RawMessage) *Report {
	return &Report{
		Category:    category,
		CollectedAt: time.Now().UTC(),
		Payload:     payload,
		Fingerprint: Fingerprint(payload),
	}
}

// Fingerprint returns the hex sha256 digest of the payload.
func Fingerprint(payload []byte) string {
	digest := sha256.Sum256(payload)

	return hex.EncodeToString(digest[:])
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/juanmitaboada/landscape-client/internal/domain/report"
)

// QueuedReport is a report waiting for delivery together with its queue
// position. Positions are assigned in collection order and never reused.
type QueuedReport struct {
	// Seq is the monotonically increasing queue position.
	Seq int64
	// Report is the queued snapshot.
	Report *report.Report
}

// queuedReportRow is the sqlx scan target for report_queue rows.
type queuedReportRow struct {
	Seq         int64     `db:"seq"`
	Category    string    `db:"category"`
	CollectedAt time.Time `db:"collected_at"`
	Fingerprint string    `db:"fingerprint"`
	Payload     []byte    `db:"payload"`
}

// EnqueueReport appends the report to the delivery queue. When the queue is
// over its bound the oldest entries are evicted; the number of evicted rows
// is returned.
func (s *Store) EnqueueReport(ctx context.Context, r *report.Report) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO report_queue (category, collected_at, fingerprint, payload) VALUES (?, ?, ?, ?)",
		r.Category, r.CollectedAt, r.Fingerprint, []byte(r.Payload),
	)
	if err != nil {
		_ = tx.Rollback()

		return 0, fmt.Errorf("enqueue report: %w", err)
	}

	// Drop-oldest eviction once the queue exceeds its bound.
	result, err := tx.ExecContext(ctx,
		`DELETE FROM report_queue WHERE seq IN (
			SELECT seq FROM report_queue ORDER BY seq DESC LIMIT -1 OFFSET ?
		)`,
		s.queueDepth,
	)
	if err != nil {
		_ = tx.Rollback()

		return 0, fmt.Errorf("evict reports: %w", err)
	}

	evicted, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()

		return 0, fmt.Errorf("count evicted: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit report: %w", err)
	}

	return int(evicted), nil
}

// PendingReports returns up to limit queued reports in collection order.
func (s *Store) PendingReports(ctx context.Context, limit int) ([]QueuedReport, error) {
	var rows []queuedReportRow

	err := s.db.SelectContext(ctx, &rows,
		"SELECT seq, category, collected_at, fingerprint, payload FROM report_queue ORDER BY seq LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pending reports: %w", err)
	}

	queued := make([]QueuedReport, 0, len(rows))
	for _, row := range rows {
		queued = append(queued, QueuedReport{
			Seq: row.Seq,
			Report: &report.Report{
				Category:    row.Category,
				CollectedAt: row.CollectedAt,
				Fingerprint: row.Fingerprint,
				Payload:     json.RawMessage(row.Payload),
			},
		})
	}

	return queued, nil
}

// RemoveReports deletes delivered reports from the queue.
func (s *Store) RemoveReports(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM report_queue WHERE seq IN (?)", seqs)
	if err != nil {
		return fmt.Errorf("expand seqs: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err = s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove reports: %w", err)
	}

	return nil
}

// ReportQueueDepth returns the number of reports waiting for delivery.
func (s *Store) ReportQueueDepth(ctx context.Context) (int, error) {
	var depth int
	if err := s.db.GetContext(ctx, &depth, "SELECT COUNT(*) FROM report_queue"); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}

	return depth, nil
}

// LastFingerprint returns the fingerprint of the last sent report for the
// category, or the empty string when none was recorded.
func (s *Store) LastFingerprint(ctx context.Context, category string) (string, error) {
	var fingerprint string

	err := s.db.GetContext(ctx, &fingerprint,
		"SELECT fingerprint FROM report_fingerprint WHERE category = ?", category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}

		return "", fmt.Errorf("last fingerprint: %w", err)
	}

	return fingerprint, nil
}

// SetFingerprint records the fingerprint of the last sent report for the
// category, used to avoid redundant retransmission.
func (s *Store) SetFingerprint(ctx context.Context, category, fingerprint string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"REPLACE INTO report_fingerprint (category, fingerprint, updated_at) VALUES (?, ?, ?)",
		category, fingerprint, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set fingerprint: %w", err)
	}

	return nil
}

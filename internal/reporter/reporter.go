package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/juanmitaboada/landscape-client/internal/collector"
	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/domain/report"
	"github.com/juanmitaboada/landscape-client/internal/logger"
	"github.com/juanmitaboada/landscape-client/internal/metrics"
	"github.com/juanmitaboada/landscape-client/internal/store"
	"github.com/juanmitaboada/landscape-client/internal/transport"
)

// ReportStore is the persistence surface the reporter needs.
type ReportStore interface {
	EnqueueReport(ctx context.Context, r *report.Report) (int, error)
	PendingReports(ctx context.Context, limit int) ([]store.QueuedReport, error)
	RemoveReports(ctx context.Context, seqs []int64) error
	ReportQueueDepth(ctx context.Context) (int, error)
	LastFingerprint(ctx context.Context, category string) (string, error)
	SetFingerprint(ctx context.Context, category, fingerprint string) error
}

// Exchanger is the channel surface the reporter needs.
type Exchanger interface {
	Exchange(ctx context.Context, messages []transport.Message) (*transport.ExchangeResult, error)
}

// CommandReceiver accepts inbound commands that ride on exchange responses.
type CommandReceiver interface {
	Receive(ctx context.Context, cmd *command.Command) error
}

// Options configures the reporter.
type Options struct {
	// DefaultSchedule is the cadence for collectors that report zero.
	DefaultSchedule time.Duration
	// FlushInterval is the cadence of delivery exchanges.
	FlushInterval time.Duration
	// BatchSize bounds the number of reports per exchange.
	BatchSize int
}

// defaultBatchSize bounds reports per exchange when Options leave it zero.
const defaultBatchSize = 50

// Reporter periodically produces a Report per registered fact category and
// transmits queued reports over the channel in collection order.
type Reporter struct {
	store      ReportStore
	channel    Exchanger
	receiver   CommandReceiver
	metrics    *metrics.Metrics
	opts       Options
	collectors []collector.Collector
}

// New creates a reporter. The receiver may be nil when inbound commands are
// handled elsewhere.
func New(reportStore ReportStore, channel Exchanger, receiver CommandReceiver,
	m *metrics.Metrics, opts Options,
) *Reporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Reporter{
		store:    reportStore,
		channel:  channel,
		receiver: receiver,
		metrics:  m,
		opts:     opts,
	}
}

// Register adds a collector. Must be called before Run.
func (r *Reporter) Register(c collector.Collector) {
	r.collectors = append(r.collectors, c)
}

// Run schedules all collectors and drives the delivery loop until the
// context is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "reporter")

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	for _, c := range r.collectors {
		interval := c.Schedule()
		if interval <= 0 {
			interval = r.opts.DefaultSchedule
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func(c collector.Collector) {
				r.collectOne(ctx, c)
			}, c),
			gocron.WithName("collect-"+c.Name()),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("schedule collector %s: %w", c.Name(), err)
		}
	}

	scheduler.Start()

	defer func() {
		if shutdownErr := scheduler.Shutdown(); shutdownErr != nil {
			logger.ErrorKV(ctx, "Scheduler shutdown failed", "error", shutdownErr)
		}
	}()

	logger.InfoKV(ctx, "Reporter started",
		"collectors", len(r.collectors), "flush_interval", r.opts.FlushInterval.String())

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Reporter stopping")

			return nil
		case <-ticker.C:
			switch err = r.Flush(ctx); {
			case err == nil:
			case errors.Is(err, transport.ErrNotRegistered):
				// Reports keep queueing until the client registers.
				logger.Debug(ctx, "Skipping delivery, client is not registered")
			default:
				// Transient failures retry at the next tick.
				logger.WarnKV(ctx, "Report delivery failed", "error", err)
			}
		}
	}
}

// collectOne produces one snapshot. A collector's failure is isolated: it is
// logged and skipped without blocking other collectors.
func (r *Reporter) collectOne(ctx context.Context, c collector.Collector) {
	payload, err := c.Collect(ctx)
	if err != nil {
		r.metrics.CollectorFailures.WithLabelValues(c.Name()).Inc()
		logger.WarnKV(ctx, "Collector failed", "category", c.Name(), "error", err)

		return
	}

	snapshot := report.New(c.Name(), payload)

	// Suppress snapshots identical to the last acknowledged one.
	lastSent, err := r.store.LastFingerprint(ctx, c.Name())
	if err != nil {
		logger.ErrorKV(ctx, "Fingerprint lookup failed", "category", c.Name(), "error", err)

		return
	}

	if lastSent == snapshot.Fingerprint {
		logger.DebugKV(ctx, "Snapshot unchanged, suppressed", "category", c.Name())

		return
	}

	evicted, err := r.store.EnqueueReport(ctx, snapshot)
	if err != nil {
		logger.ErrorKV(ctx, "Enqueue report failed", "category", c.Name(), "error", err)

		return
	}

	r.metrics.ReportsCollected.WithLabelValues(c.Name()).Inc()

	if evicted > 0 {
		r.metrics.ReportsDropped.Add(float64(evicted))
		logger.WarnKV(ctx, "Report queue full, dropped oldest", "evicted", evicted)
	}

	r.updateQueueGauge(ctx)
}

// Flush transmits queued reports in collection order. Acknowledged reports
// leave the queue and update the per-category fingerprint; anything not
// acknowledged stays queued for the next flush.
func (r *Reporter) Flush(ctx context.Context) error {
	pending, err := r.store.PendingReports(ctx, r.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("pending reports: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	messages := make([]transport.Message, 0, len(pending))
	bySeq := make(map[string]store.QueuedReport, len(pending))

	for _, queued := range pending {
		payload, marshalErr := json.Marshal(queued.Report)
		if marshalErr != nil {
			return fmt.Errorf("encode report: %w", marshalErr)
		}

		// Stable id per queue position keeps retransmissions idempotent.
		id := fmt.Sprintf("report-%d", queued.Seq)
		bySeq[id] = queued

		messages = append(messages, transport.Message{
			ID:      id,
			Type:    transport.MessageTypeReport,
			Payload: payload,
		})
	}

	result, err := r.channel.Exchange(ctx, messages)
	if err != nil {
		// An unregistered client never reached the server.
		if !errors.Is(err, transport.ErrNotRegistered) {
			r.metrics.ExchangeFailures.Inc()
		}

		return fmt.Errorf("exchange reports: %w", err)
	}

	delivered := make([]int64, 0, len(result.AcceptedIDs))

	for _, id := range result.AcceptedIDs {
		queued, ok := bySeq[id]
		if !ok {
			continue
		}

		delivered = append(delivered, queued.Seq)

		if err = r.store.SetFingerprint(ctx, queued.Report.Category, queued.Report.Fingerprint); err != nil {
			return fmt.Errorf("record fingerprint: %w", err)
		}
	}

	if err = r.store.RemoveReports(ctx, delivered); err != nil {
		return fmt.Errorf("dequeue delivered: %w", err)
	}

	r.metrics.ReportsSent.Add(float64(len(delivered)))
	r.updateQueueGauge(ctx)

	logger.InfoKV(ctx, "Reports delivered", "count", len(delivered))

	r.forwardCommands(ctx, result.Commands)

	return nil
}

// forwardCommands hands inbound commands to the receiver.
func (r *Reporter) forwardCommands(ctx context.Context, commands []*command.Command) {
	if r.receiver == nil || len(commands) == 0 {
		return
	}

	for _, cmd := range commands {
		if err := r.receiver.Receive(ctx, cmd); err != nil {
			logger.WarnKV(ctx, "Inbound command refused", "command_id", cmd.ID, "error", err)
		}
	}
}

// updateQueueGauge refreshes the queue depth metric.
func (r *Reporter) updateQueueGauge(ctx context.Context) {
	if depth, err := r.store.ReportQueueDepth(ctx); err == nil {
		r.metrics.QueueDepth.Set(float64(depth))
	}
}

package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juanmitaboada/landscape-client/internal/collector"
	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/domain/report"
	"github.com/juanmitaboada/landscape-client/internal/metrics"
	"github.com/juanmitaboada/landscape-client/internal/store"
	"github.com/juanmitaboada/landscape-client/internal/transport"
)

// fakeCollector returns a fixed payload or error.
type fakeCollector struct {
	name    string
	payload json.RawMessage
	err     error
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Schedule() time.Duration { return time.Minute }

func (f *fakeCollector) Collect(context.Context) (json.RawMessage, error) {
	return f.payload, f.err
}

var _ collector.Collector = (*fakeCollector)(nil)

// fakeExchanger scripts exchange outcomes and records sent batches.
type fakeExchanger struct {
	batches [][]transport.Message
	// failures is the number of exchanges that fail before succeeding.
	failures int
	// commands ride on the next successful response.
	commands []*command.Command
	// acceptAll acknowledges every message when true.
	acceptAll bool
	// acceptIDs acknowledges only these ids when acceptAll is false.
	acceptIDs []string
}

func (f *fakeExchanger) Exchange(_ context.Context, messages []transport.Message) (*transport.ExchangeResult, error) {
	f.batches = append(f.batches, messages)

	if f.failures > 0 {
		f.failures--

		return nil, transport.ErrUnavailable
	}

	accepted := f.acceptIDs
	if f.acceptAll {
		accepted = make([]string, 0, len(messages))
		for _, m := range messages {
			accepted = append(accepted, m.ID)
		}
	}

	commands := f.commands
	f.commands = nil

	return &transport.ExchangeResult{AcceptedIDs: accepted, Commands: commands}, nil
}

// fakeReceiver records forwarded commands.
type fakeReceiver struct {
	received []*command.Command
}

func (f *fakeReceiver) Receive(_ context.Context, cmd *command.Command) error {
	f.received = append(f.received, cmd)

	return nil
}

// newTestReporter wires a reporter on a real store in a temp dir.
func newTestReporter(t *testing.T, exchanger Exchanger, receiver CommandReceiver) (*Reporter, *store.Store) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "landscape.db"), 100)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	r := New(s, exchanger, receiver, metrics.New(), Options{
		DefaultSchedule: time.Minute,
		FlushInterval:   time.Minute,
		BatchSize:       10,
	})

	return r, s
}

// TestCollectOne_FailingCollectorIsolated verifies one collector's failure
// does not block another collector's report.
func TestCollectOne_FailingCollectorIsolated(t *testing.T) {
	t.Parallel()

	r, s := newTestReporter(t, &fakeExchanger{acceptAll: true}, nil)
	ctx := context.Background()

	r.collectOne(ctx, &fakeCollector{name: "hardware", err: errors.New("probe failed")})
	r.collectOne(ctx, &fakeCollector{name: "network", payload: json.RawMessage(`{"up":true}`)})

	pending, err := s.PendingReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "network", pending[0].Report.Category)
}

// TestCollectOne_SuppressesUnchangedSnapshot verifies fingerprint
// suppression against the last acknowledged snapshot.
func TestCollectOne_SuppressesUnchangedSnapshot(t *testing.T) {
	t.Parallel()

	r, s := newTestReporter(t, &fakeExchanger{acceptAll: true}, nil)
	ctx := context.Background()

	payload := json.RawMessage(`{"up":true}`)
	require.NoError(t, s.SetFingerprint(ctx, "network", report.Fingerprint(payload)))

	r.collectOne(ctx, &fakeCollector{name: "network", payload: payload})

	depth, err := s.ReportQueueDepth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

// TestFlush_DeliversInOrder verifies queued reports are sent and dequeued in
// collection order with fingerprints recorded.
func TestFlush_DeliversInOrder(t *testing.T) {
	t.Parallel()

	exchanger := &fakeExchanger{acceptAll: true}
	r, s := newTestReporter(t, exchanger, nil)
	ctx := context.Background()

	first := report.New("hardware", json.RawMessage(`{"n":1}`))
	second := report.New("hardware", json.RawMessage(`{"n":2}`))

	_, err := s.EnqueueReport(ctx, first)
	require.NoError(t, err)
	_, err = s.EnqueueReport(ctx, second)
	require.NoError(t, err)

	require.NoError(t, r.Flush(ctx))

	require.Len(t, exchanger.batches, 1)
	require.Len(t, exchanger.batches[0], 2)

	var sentFirst report.Report
	require.NoError(t, json.Unmarshal(exchanger.batches[0][0].Payload, &sentFirst))
	require.JSONEq(t, `{"n":1}`, string(sentFirst.Payload))

	depth, err := s.ReportQueueDepth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)

	fp, err := s.LastFingerprint(ctx, "hardware")
	require.NoError(t, err)
	require.Equal(t, second.Fingerprint, fp)
}

// TestFlush_OutageThenRecovery verifies reports stay queued across transport
// failures and are retransmitted with stable message ids once the channel
// recovers, so the server can deduplicate.
func TestFlush_OutageThenRecovery(t *testing.T) {
	t.Parallel()

	exchanger := &fakeExchanger{failures: 2, acceptAll: true}
	r, s := newTestReporter(t, exchanger, nil)
	ctx := context.Background()

	_, err := s.EnqueueReport(ctx, report.New("network", json.RawMessage(`{"up":true}`)))
	require.NoError(t, err)

	require.Error(t, r.Flush(ctx))
	require.Error(t, r.Flush(ctx))
	require.NoError(t, r.Flush(ctx))

	require.Len(t, exchanger.batches, 3)
	require.Equal(t, exchanger.batches[0][0].ID, exchanger.batches[2][0].ID)

	depth, err := s.ReportQueueDepth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

// TestFlush_PartialAcknowledgement verifies unacknowledged reports remain
// queued for the next flush.
func TestFlush_PartialAcknowledgement(t *testing.T) {
	t.Parallel()

	r, s := newTestReporter(t, &fakeExchanger{}, nil)
	ctx := context.Background()

	_, err := s.EnqueueReport(ctx, report.New("hardware", json.RawMessage(`{"n":1}`)))
	require.NoError(t, err)

	// Nothing accepted: the report must survive the flush.
	require.NoError(t, r.Flush(ctx))

	depth, err := s.ReportQueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}

// TestFlush_ForwardsInboundCommands verifies commands on exchange responses
// reach the receiver.
func TestFlush_ForwardsInboundCommands(t *testing.T) {
	t.Parallel()

	receiver := &fakeReceiver{}
	exchanger := &fakeExchanger{
		acceptAll: true,
		commands: []*command.Command{
			{ID: "cmd-1", Kind: "power"},
		},
	}
	r, s := newTestReporter(t, exchanger, receiver)
	ctx := context.Background()

	_, err := s.EnqueueReport(ctx, report.New("hardware", json.RawMessage(`{}`)))
	require.NoError(t, err)

	require.NoError(t, r.Flush(ctx))

	require.Len(t, receiver.received, 1)
	require.Equal(t, "cmd-1", receiver.received[0].ID)
}

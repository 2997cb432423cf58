package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/domain/identity"
	"github.com/juanmitaboada/landscape-client/internal/domain/report"
)

// openStore opens a store in a temp dir and registers cleanup.
func openStore(t *testing.T, queueDepth int) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "landscape.db")

	s, err := Open(path, queueDepth)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s, path
}

// TestIdentity_SaveLoadRoundtrip verifies identity persistence and the
// atomic swap on re-registration: the latest save wins, never a mix.
func TestIdentity_SaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	s, path := openStore(t, 10)
	ctx := context.Background()

	_, err := s.LoadIdentity(ctx)
	require.ErrorIs(t, err, ErrIdentityNotFound)

	first, err := identity.New("onward", "https://landscape.example.com")
	require.NoError(t, err)
	first.ClientID = "client-1"
	first.SecureID = "secure-1"
	first.Status = identity.StatusRegistered

	require.NoError(t, s.SaveIdentity(ctx, first))

	second, err := identity.New("onward", "https://landscape.example.com")
	require.NoError(t, err)
	second.ClientID = "client-2"
	second.SecureID = "secure-2"
	second.Status = identity.StatusRegistered

	require.NoError(t, s.SaveIdentity(ctx, second))

	// Reopen to simulate a restart; only the latest identity survives.
	require.NoError(t, s.Close())

	reopened, err := Open(path, 10)
	require.NoError(t, err)

	defer func() {
		_ = reopened.Close()
	}()

	loaded, err := reopened.LoadIdentity(ctx)
	require.NoError(t, err)
	require.Equal(t, "client-2", loaded.ClientID)
	require.Equal(t, "secure-2", loaded.SecureID)
	require.Equal(t, second.PrivateKey, loaded.PrivateKey)
}

// TestReportQueue_OrderAndEviction verifies enqueue order is preserved and
// the oldest entries are evicted once the queue is full.
func TestReportQueue_OrderAndEviction(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t, 3)
	ctx := context.Background()

	for i := range 5 {
		payload := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
		_, err := s.EnqueueReport(ctx, report.New("hardware", payload))
		require.NoError(t, err)
	}

	depth, err := s.ReportQueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, depth)

	pending, err := s.PendingReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// The two oldest entries were evicted; order is preserved for the rest.
	require.JSONEq(t, `{"n":2}`, string(pending[0].Report.Payload))
	require.JSONEq(t, `{"n":3}`, string(pending[1].Report.Payload))
	require.JSONEq(t, `{"n":4}`, string(pending[2].Report.Payload))

	require.NoError(t, s.RemoveReports(ctx, []int64{pending[0].Seq, pending[1].Seq}))

	pending, err = s.PendingReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.JSONEq(t, `{"n":4}`, string(pending[0].Report.Payload))
}

// TestFingerprints verifies last-sent fingerprints per category.
func TestFingerprints(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t, 10)
	ctx := context.Background()

	fp, err := s.LastFingerprint(ctx, "network")
	require.NoError(t, err)
	require.Empty(t, fp)

	require.NoError(t, s.SetFingerprint(ctx, "network", "abc"))
	require.NoError(t, s.SetFingerprint(ctx, "network", "def"))

	fp, err = s.LastFingerprint(ctx, "network")
	require.NoError(t, err)
	require.Equal(t, "def", fp)
}

// TestCommands_WriteAheadLifecycle verifies command records survive a
// reopen with their latest persisted state.
func TestCommands_WriteAheadLifecycle(t *testing.T) {
	t.Parallel()

	s, path := openStore(t, 10)
	ctx := context.Background()

	cmd := &command.Command{
		ID:         "cmd-1",
		Kind:       "power",
		Params:     json.RawMessage(`{"action":"shutdown"}`),
		Principal:  "admin@example.com",
		ReceivedAt: time.Now().UTC(),
		State:      command.StateReceived,
	}
	require.NoError(t, s.PutCommand(ctx, cmd))

	cmd.State = command.StateExecuting
	cmd.Attempts = 1
	require.NoError(t, s.PutCommand(ctx, cmd))

	// Simulate a crash mid-execution.
	require.NoError(t, s.Close())

	reopened, err := Open(path, 10)
	require.NoError(t, err)

	defer func() {
		_ = reopened.Close()
	}()

	stuck, err := reopened.CommandsInStates(ctx, command.StateExecuting)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "cmd-1", stuck[0].ID)
	require.Equal(t, 1, stuck[0].Attempts)

	loaded, err := reopened.GetCommand(ctx, "cmd-1")
	require.NoError(t, err)
	require.Equal(t, command.StateExecuting, loaded.State)

	_, err = reopened.GetCommand(ctx, "missing")
	require.ErrorIs(t, err, ErrCommandNotFound)
}

// TestCommands_PruneDelivered verifies terminal records are pruned by age.
func TestCommands_PruneDelivered(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t, 10)
	ctx := context.Background()

	old := &command.Command{
		ID:         "cmd-old",
		Kind:       "script",
		ReceivedAt: time.Now().UTC().Add(-48 * time.Hour),
		State:      command.StateDelivered,
	}
	recent := &command.Command{
		ID:         "cmd-recent",
		Kind:       "script",
		ReceivedAt: time.Now().UTC(),
		State:      command.StateDelivered,
	}
	require.NoError(t, s.PutCommand(ctx, old))
	require.NoError(t, s.PutCommand(ctx, recent))

	require.NoError(t, s.PruneDelivered(ctx, time.Now().UTC().Add(-24*time.Hour)))

	_, err := s.GetCommand(ctx, "cmd-old")
	require.ErrorIs(t, err, ErrCommandNotFound)

	_, err = s.GetCommand(ctx, "cmd-recent")
	require.NoError(t, err)
}

// TestFlagsAndSequences verifies flag defaults and monotonic counters.
func TestFlagsAndSequences(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t, 10)
	ctx := context.Background()

	value, err := s.GetFlag(ctx, "recovery-done")
	require.NoError(t, err)
	require.False(t, value)

	require.NoError(t, s.SetFlag(ctx, "recovery-done", true))

	value, err = s.GetFlag(ctx, "recovery-done")
	require.NoError(t, err)
	require.True(t, value)

	first, err := s.NextSequence(ctx, "exchange")
	require.NoError(t, err)

	second, err := s.NextSequence(ctx, "exchange")
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

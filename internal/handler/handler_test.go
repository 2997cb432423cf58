package handler

import (
	"context"
	"encoding/json"
	"net"
	"runtime"
	"sync"
	"syscall"
	"testing"

	ps "github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
)

// recordingRunner captures invocations instead of touching the system.
type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, append([]string{name}, args...))

	return nil, r.err
}

func testCommand(kind, target string, params any) *command.Command {
	encoded, _ := json.Marshal(params)

	return &command.Command{
		ID:        "cmd-1",
		Kind:      kind,
		Target:    target,
		Params:    encoded,
		Principal: "admin@example.com",
	}
}

func TestPower_SchedulesShutdown(t *testing.T) {
	t.Parallel()

	rec := &recordingRunner{}
	h := &Power{run: rec.run}

	payload, err := h.Execute(context.Background(),
		testCommand("power", "", map[string]any{"action": "shutdown"}))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"shutdown", "-h", "now"}}, rec.calls)

	var result map[string]any
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, "now", result["scheduled"])
}

func TestPower_RestartWithDelay(t *testing.T) {
	t.Parallel()

	rec := &recordingRunner{}
	h := &Power{run: rec.run}

	_, err := h.Execute(context.Background(),
		testCommand("power", "", map[string]any{"action": "restart", "delay_minutes": 5}))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"shutdown", "-r", "+5"}}, rec.calls)
}

func TestPower_UnknownActionMalformed(t *testing.T) {
	t.Parallel()

	h := &Power{run: (&recordingRunner{}).run}

	_, err := h.Execute(context.Background(),
		testCommand("power", "", map[string]any{"action": "levitate"}))
	require.ErrorIs(t, err, command.ErrMalformed)
}

func TestPower_MissingPrincipalDenied(t *testing.T) {
	t.Parallel()

	h := &Power{run: (&recordingRunner{}).run}
	cmd := testCommand("power", "", map[string]any{"action": "shutdown"})
	cmd.Principal = ""

	_, err := h.Execute(context.Background(), cmd)
	require.ErrorIs(t, err, command.ErrPermissionDenied)
}

func TestProcess_TerminateSignalsTarget(t *testing.T) {
	t.Parallel()

	var (
		gotPID int
		gotSig syscall.Signal
	)

	h := &Process{
		find: func(pid int) (ps.Process, error) {
			return fakeProcess{pid: pid, name: "nginx"}, nil
		},
		kill: func(pid int, sig syscall.Signal) error {
			gotPID, gotSig = pid, sig

			return nil
		},
	}

	payload, err := h.Execute(context.Background(),
		testCommand("process", "1234", map[string]any{"action": "terminate"}))
	require.NoError(t, err)
	require.Equal(t, 1234, gotPID)
	require.Equal(t, syscall.SIGTERM, gotSig)

	var result map[string]any
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, "nginx", result["executable"])
}

func TestProcess_InvalidTargetMalformed(t *testing.T) {
	t.Parallel()

	h := NewProcess()

	_, err := h.Execute(context.Background(),
		testCommand("process", "not-a-pid", map[string]any{"action": "kill"}))
	require.ErrorIs(t, err, command.ErrMalformed)
}

func TestProcess_UnknownSignalMalformed(t *testing.T) {
	t.Parallel()

	h := NewProcess()

	_, err := h.Execute(context.Background(),
		testCommand("process", "1234", map[string]any{"action": "signal", "signal": "BOGUS"}))
	require.ErrorIs(t, err, command.ErrMalformed)
}

// fakeProcess satisfies the go-ps process interface.
type fakeProcess struct {
	pid  int
	name string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 0 }
func (p fakeProcess) Executable() string { return p.name }

func TestUser_LockAndUnlock(t *testing.T) {
	t.Parallel()

	rec := &recordingRunner{}
	h := &User{run: rec.run}
	ctx := context.Background()

	_, err := h.Execute(ctx, testCommand("user", "alice", map[string]any{"action": "lock"}))
	require.NoError(t, err)

	_, err = h.Execute(ctx, testCommand("user", "alice", map[string]any{"action": "unlock"}))
	require.NoError(t, err)

	require.Equal(t, [][]string{
		{"usermod", "-L", "alice"},
		{"usermod", "-U", "alice"},
	}, rec.calls)
}

func TestUser_AddWithHomeAndComment(t *testing.T) {
	t.Parallel()

	rec := &recordingRunner{}
	h := &User{run: rec.run}

	_, err := h.Execute(context.Background(), testCommand("user", "bob", map[string]any{
		"action": "add", "home": true, "comment": "Bob Example",
	}))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"useradd", "-m", "-c", "Bob Example", "bob"}}, rec.calls)
}

func TestUser_InvalidNameMalformed(t *testing.T) {
	t.Parallel()

	h := &User{run: (&recordingRunner{}).run}

	_, err := h.Execute(context.Background(),
		testCommand("user", "alice; rm -rf /", map[string]any{"action": "lock"}))
	require.ErrorIs(t, err, command.ErrMalformed)
}

func TestNetwork_BringsInterfaceDown(t *testing.T) {
	t.Parallel()

	rec := &recordingRunner{}
	h := &Network{
		run: rec.run,
		lookup: func(name string) (*net.Interface, error) {
			return &net.Interface{Name: name}, nil
		},
	}

	payload, err := h.Execute(context.Background(),
		testCommand("network", "eth0", map[string]any{"action": "down"}))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"ip", "link", "set", "eth0", "down"}}, rec.calls)

	var result map[string]any
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, "eth0", result["interface"])
}

func TestNetwork_UnknownActionMalformed(t *testing.T) {
	t.Parallel()

	h := NewNetwork()

	_, err := h.Execute(context.Background(),
		testCommand("network", "eth0", map[string]any{"action": "sideways"}))
	require.ErrorIs(t, err, command.ErrMalformed)
}

func TestScript_CapturesOutputAndExitCode(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	h := NewScript(t.TempDir())

	payload, err := h.Execute(context.Background(), testCommand("script", "", map[string]any{
		"interpreter": "/bin/sh",
		"code":        "echo out-line\necho err-line >&2\nexit 7\n",
	}))
	require.NoError(t, err)

	var result scriptResult
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, 7, result.ExitCode)
	require.Equal(t, "out-line\n", result.Stdout)
	require.Equal(t, "err-line\n", result.Stderr)
	require.False(t, result.Truncated)
}

func TestScript_TruncatesLargeOutput(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	h := NewScript(t.TempDir())

	payload, err := h.Execute(context.Background(), testCommand("script", "", map[string]any{
		"interpreter": "/bin/sh",
		"code":        "dd if=/dev/zero bs=1024 count=2048 2>/dev/null | tr '\\0' 'x'\n",
	}))
	require.NoError(t, err)

	var result scriptResult
	require.NoError(t, json.Unmarshal(payload, &result))
	require.Equal(t, 0, result.ExitCode)
	require.Len(t, result.Stdout, maxScriptOutput)
	require.True(t, result.Truncated)
}

func TestScript_TimeoutFailsCommand(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	h := NewScript(t.TempDir())

	_, err := h.Execute(context.Background(), testCommand("script", "", map[string]any{
		"interpreter":     "/bin/sh",
		"code":            "sleep 30\n",
		"timeout_seconds": 1,
	}))
	require.ErrorContains(t, err, "timeout")
}

func TestScript_RelativeInterpreterMalformed(t *testing.T) {
	t.Parallel()

	h := NewScript(t.TempDir())

	_, err := h.Execute(context.Background(), testCommand("script", "", map[string]any{
		"interpreter": "sh",
		"code":        "echo hi\n",
	}))
	require.ErrorIs(t, err, command.ErrMalformed)
}

func TestLimitWriter_ReportsFullWrites(t *testing.T) {
	t.Parallel()

	w := &limitWriter{limit: 4}

	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "abcd", w.buf.String())
	require.True(t, w.truncated())
}

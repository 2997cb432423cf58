package configtool

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juanmitaboada/landscape-client/internal/control"
)

// serveOnSocket runs a stub daemon on a unix socket for the test duration.
func serveOnSocket(t *testing.T, handler http.Handler) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "client.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	server := &http.Server{Handler: handler, ReadHeaderTimeout: time.Second}

	go func() { _ = server.Serve(listener) }()

	t.Cleanup(func() { _ = server.Close() })

	return socketPath
}

func TestStatus_PrintsDaemonState(t *testing.T) {
	t.Parallel()

	socketPath := serveOnSocket(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/status", r.URL.Path)

		_ = json.NewEncoder(w).Encode(control.StatusResponse{
			Version:     "0.1.0",
			Status:      "registered",
			ClientID:    "client-1",
			AccountName: "ops",
			QueueDepth:  3,
		})
	}))

	var out bytes.Buffer

	err := Status(context.Background(), &Options{SocketPath: socketPath, Output: &out})
	require.NoError(t, err)
	require.Contains(t, out.String(), "registered")
	require.Contains(t, out.String(), "client-1")
	require.Contains(t, out.String(), "Pending reports: 3")
}

func TestRegister_SendsKeyAndPrintsResult(t *testing.T) {
	t.Parallel()

	socketPath := serveOnSocket(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/register", r.URL.Path)

		var req control.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "hunter2", req.RegistrationKey)

		_ = json.NewEncoder(w).Encode(control.StatusResponse{Status: "registered", ClientID: "client-1"})
	}))

	var out bytes.Buffer

	err := Register(context.Background(), &Options{SocketPath: socketPath, Output: &out}, "hunter2")
	require.NoError(t, err)
	require.Contains(t, out.String(), "Registration complete.")
}

func TestExchange_SurfacesDaemonRefusal(t *testing.T) {
	t.Parallel()

	socketPath := serveOnSocket(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)

		_ = json.NewEncoder(w).Encode(map[string]string{"error": "client is not registered"})
	}))

	var out bytes.Buffer

	err := Exchange(context.Background(), &Options{SocketPath: socketPath, Output: &out})
	require.ErrorContains(t, err, "client is not registered")
}

func TestStatus_DaemonUnreachable(t *testing.T) {
	t.Parallel()

	err := Status(context.Background(), &Options{
		SocketPath: filepath.Join(t.TempDir(), "absent.sock"),
		Output:     &bytes.Buffer{},
	})
	require.ErrorIs(t, err, ErrDaemonUnreachable)
}

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juanmitaboada/landscape-client/internal/domain/identity"
	"github.com/juanmitaboada/landscape-client/internal/metrics"
	"github.com/juanmitaboada/landscape-client/internal/transport"
)

type fakeRegistrar struct {
	ident *identity.Identity
	err   error
}

func (f *fakeRegistrar) Register(_ context.Context, _ string) (*identity.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.ident, nil
}

func (f *fakeRegistrar) Identity() *identity.Identity { return f.ident }

type fakeFlusher struct {
	err    error
	called int
}

func (f *fakeFlusher) Flush(_ context.Context) error {
	f.called++

	return f.err
}

type fakeQueue struct{ depth int }

func (f *fakeQueue) ReportQueueDepth(_ context.Context) (int, error) { return f.depth, nil }

func newTestServer(registrar *fakeRegistrar, flusher *fakeFlusher, queue *fakeQueue) *httptest.Server {
	s := NewServer("", registrar, flusher, queue, metrics.New().Handler())

	return httptest.NewServer(s.Router())
}

func registeredIdentity() *identity.Identity {
	return &identity.Identity{
		ClientID:     "client-1",
		SecureID:     "secure-1",
		AccountName:  "ops",
		ServerURL:    "https://landscape.example.com",
		Status:       identity.StatusRegistered,
		RegisteredAt: time.Now().UTC(),
	}
}

func TestStatus_ReportsIdentityAndQueueDepth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeRegistrar{ident: registeredIdentity()}, &fakeFlusher{}, &fakeQueue{depth: 7})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "registered", status.Status)
	require.Equal(t, "client-1", status.ClientID)
	require.Equal(t, 7, status.QueueDepth)
}

func TestStatus_UnregisteredClient(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeRegistrar{}, &fakeFlusher{}, &fakeQueue{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "unregistered", status.Status)
	require.Empty(t, status.ClientID)
}

func TestRegister_ErrorMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "invalid secret", err: transport.ErrInvalidSecret, wantStatus: http.StatusUnauthorized},
		{name: "rejected", err: transport.ErrAuthRejected, wantStatus: http.StatusForbidden},
		{name: "unavailable", err: transport.ErrUnavailable, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestServer(&fakeRegistrar{err: tc.err}, &fakeFlusher{}, &fakeQueue{})
			defer ts.Close()

			body, _ := json.Marshal(RegisterRequest{RegistrationKey: "secret"})

			resp, err := http.Post(ts.URL+"/v1/register", "application/json", bytes.NewReader(body))
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}
}

func TestRegister_Success(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeRegistrar{ident: registeredIdentity()}, &fakeFlusher{}, &fakeQueue{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/register", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "registered", status.Status)
}

func TestExchange_TriggersFlush(t *testing.T) {
	t.Parallel()

	flusher := &fakeFlusher{}

	ts := newTestServer(&fakeRegistrar{ident: registeredIdentity()}, flusher, &fakeQueue{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/exchange", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, flusher.called)
}

func TestExchange_UnregisteredConflict(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeRegistrar{}, &fakeFlusher{err: transport.ErrNotRegistered}, &fakeQueue{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/exchange", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeRegistrar{}, &fakeFlusher{}, &fakeQueue{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRun_ServesOnUnixSocket(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "client.sock")
	s := NewServer(socketPath, &fakeRegistrar{ident: registeredIdentity()}, &fakeFlusher{}, &fakeQueue{}, metrics.New().Handler())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}

	require.Eventually(t, func() bool {
		resp, err := client.Get("http://landscape/v1/status")
		if err != nil {
			return false
		}

		defer resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("control server did not stop")
	}
}

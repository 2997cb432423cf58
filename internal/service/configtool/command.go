package configtool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/juanmitaboada/landscape-client/internal/config"
	"github.com/juanmitaboada/landscape-client/internal/control"
)

// requestTimeout bounds each control socket request. Registration can sit
// behind server-side retries, so it gets a generous bound.
const requestTimeout = 2 * time.Minute

// ErrDaemonUnreachable indicates the daemon is not listening on the socket.
var ErrDaemonUnreachable = errors.New("daemon unreachable")

// Options controls the configuration tool.
type Options struct {
	// SocketPath is the daemon control socket; empty means the default.
	SocketPath string
	// Output receives human-readable results; nil means stdout.
	Output io.Writer
}

func (o *Options) socket() string {
	if o.SocketPath != "" {
		return o.SocketPath
	}

	return config.DefaultControlSocket
}

func (o *Options) output() io.Writer {
	if o.Output != nil {
		return o.Output
	}

	return os.Stdout
}

// newClient builds an HTTP client speaking over the unix socket.
func newClient(socketPath string) *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// Register asks the daemon to register with the management server and
// prints the resulting identity.
func Register(ctx context.Context, opts *Options, registrationKey string) error {
	body, err := json.Marshal(control.RegisterRequest{RegistrationKey: registrationKey})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var status control.StatusResponse
	if err = call(ctx, opts, http.MethodPost, "/v1/register", body, &status); err != nil {
		return err
	}

	fmt.Fprintf(opts.output(), "Registration complete.\n")
	printStatus(opts.output(), &status)

	return nil
}

// Status prints the daemon's registration and queue state.
func Status(ctx context.Context, opts *Options) error {
	var status control.StatusResponse
	if err := call(ctx, opts, http.MethodGet, "/v1/status", nil, &status); err != nil {
		return err
	}

	printStatus(opts.output(), &status)

	return nil
}

// Exchange asks the daemon for an immediate exchange with the server.
func Exchange(ctx context.Context, opts *Options) error {
	if err := call(ctx, opts, http.MethodPost, "/v1/exchange", nil, nil); err != nil {
		return err
	}

	fmt.Fprintf(opts.output(), "Exchange complete.\n")

	return nil
}

// call performs one request against the control socket and decodes the
// response into out when it is non-nil.
func call(ctx context.Context, opts *Options, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://landscape"+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := newClient(opts.socket()).Do(req)
	if err != nil {
		return fmt.Errorf("%w at %s: %w", ErrDaemonUnreachable, opts.socket(), err)
	}

	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var failure struct {
			Error string `json:"error"`
		}

		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr == nil && failure.Error != "" {
			return fmt.Errorf("daemon refused request: %s", failure.Error)
		}

		return fmt.Errorf("daemon refused request: %s", resp.Status)
	}

	if out == nil {
		return nil
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func printStatus(w io.Writer, status *control.StatusResponse) {
	fmt.Fprintf(w, "Client version:  %s\n", status.Version)
	fmt.Fprintf(w, "Status:          %s\n", status.Status)

	if status.ClientID != "" {
		fmt.Fprintf(w, "Client ID:       %s\n", status.ClientID)
	}

	if status.AccountName != "" {
		fmt.Fprintf(w, "Account:         %s\n", status.AccountName)
	}

	if status.ServerURL != "" {
		fmt.Fprintf(w, "Server URL:      %s\n", status.ServerURL)
	}

	if !status.RegisteredAt.IsZero() {
		fmt.Fprintf(w, "Registered at:   %s\n", status.RegisteredAt.Format(time.RFC3339))
	}

	fmt.Fprintf(w, "Pending reports: %d\n", status.QueueDepth)
}

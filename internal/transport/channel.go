package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/juanmitaboada/landscape-client/internal/domain/identity"
	"github.com/juanmitaboada/landscape-client/internal/logger"
)

var (
	// ErrAuthRejected is returned when the server permanently rejects the
	// client. Retrying without operator action is pointless.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrInvalidSecret is returned when the registration key is wrong.
	ErrInvalidSecret = errors.New("invalid registration key")
	// ErrUnavailable is returned for transient transport failures. Callers
	// retry these with backoff.
	ErrUnavailable = errors.New("server unavailable")
	// ErrNotRegistered is returned when an exchange is attempted without a
	// registered identity.
	ErrNotRegistered = errors.New("client is not registered")
)

// SequenceSource provides durable monotonic sequence numbers.
type SequenceSource interface {
	NextSequence(ctx context.Context, name string) (int64, error)
}

// Channel is the authenticated transport session to the management server.
// It is owned exclusively by the daemon process; writes are serialized so a
// single logical exchange is in flight at a time.
type Channel struct {
	baseURL string
	client  *http.Client
	seq     SequenceSource

	// mu serializes exchanges and guards the identity.
	mu    sync.Mutex
	ident *identity.Identity
}

// sequenceCounter is the durable counter name for exchange sequences.
const sequenceCounter = "exchange-sequence"

// NewChannel creates a channel to the server at baseURL.
func NewChannel(baseURL string, timeout time.Duration, seq SequenceSource) *Channel {
	return &Channel{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		seq:     seq,
	}
}

// SetIdentity installs the credential used to sign exchanges. The caller must
// have persisted the identity before installing it.
func (c *Channel) SetIdentity(ident *identity.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ident = ident
}

// Identity returns the installed credential, nil when unregistered.
func (c *Channel) Identity() *identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ident
}

// Register performs the mutual identity exchange with the server. It does
// not persist anything; the registration manager owns persistence ordering.
func (c *Channel) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode registration: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/register", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build registration request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("register: %v: %w", err, ErrUnavailable)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidSecret
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrAuthRejected
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("register: status %d: %w", resp.StatusCode, ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("register: unexpected status %d", resp.StatusCode)
	}

	var regResp RegisterResponse
	if err = json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		return nil, fmt.Errorf("decode registration response: %w", err)
	}

	if regResp.ClientID == "" || regResp.SecureID == "" {
		return nil, fmt.Errorf("registration response missing ids: %w", ErrAuthRejected)
	}

	return &regResp, nil
}

// Exchange sends outbound messages and returns the server's acknowledgements
// together with any inbound commands. Exchanges are serialized; inbound
// commands ride on the response so no listening socket is needed.
func (c *Channel) Exchange(ctx context.Context, messages []Message) (*ExchangeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ident.Registered() {
		return nil, ErrNotRegistered
	}

	sequence, err := c.seq.NextSequence(ctx, sequenceCounter)
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}

	payload := exchangeRequest{
		ClientID: c.ident.ClientID,
		SecureID: c.ident.SecureID,
		Sequence: sequence,
		Messages: messages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode exchange: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build exchange request: %w", err)
	}

	c.signRequest(httpReq, body)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("exchange: %v: %w", err, ErrUnavailable)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrAuthRejected
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("exchange: status %d: %w", resp.StatusCode, ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("exchange: unexpected status %d: %s", resp.StatusCode, raw)
	}

	var result ExchangeResult
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}

	logger.DebugKV(ctx, "Exchange completed",
		"sequence", sequence,
		"sent", len(messages),
		"accepted", len(result.AcceptedIDs),
		"commands", len(result.Commands))

	return &result, nil
}

// signRequest attaches the signed authentication headers. The signature
// covers timestamp, nonce and body so replays are detectable server-side.
func (c *Channel) signRequest(req *http.Request, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.NewString()

	message := make([]byte, 0, len(timestamp)+len(nonce)+len(body)+2)
	message = append(message, timestamp...)
	message = append(message, '|')
	message = append(message, nonce...)
	message = append(message, '|')
	message = append(message, body...)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Landscape-Client-Id", c.ident.ClientID)
	req.Header.Set("X-Landscape-Timestamp", timestamp)
	req.Header.Set("X-Landscape-Nonce", nonce)
	req.Header.Set("X-Landscape-Signature", base64.StdEncoding.EncodeToString(c.ident.Sign(message)))
}

// Retryable reports whether the error is a transient transport failure worth
// retrying with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

package registration

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/juanmitaboada/landscape-client/internal/domain/identity"
	"github.com/juanmitaboada/landscape-client/internal/logger"
	"github.com/juanmitaboada/landscape-client/internal/store"
	"github.com/juanmitaboada/landscape-client/internal/transport"
)

// IdentityStore is the persistence surface the manager needs.
type IdentityStore interface {
	SaveIdentity(ctx context.Context, ident *identity.Identity) error
	LoadIdentity(ctx context.Context) (*identity.Identity, error)
}

// Registrar is the transport surface the manager needs.
type Registrar interface {
	Register(ctx context.Context, req *transport.RegisterRequest) (*transport.RegisterResponse, error)
	SetIdentity(ident *identity.Identity)
}

// Options configures the registration manager.
type Options struct {
	// ServerURL is the management server base URL.
	ServerURL string
	// AccountName is the account to register under.
	AccountName string
	// ComputerTitle is the human-readable computer name.
	ComputerTitle string
	// InitialBackoff is the first retry delay for transient failures.
	InitialBackoff time.Duration
	// MaxAttempts bounds registration attempts per Register call.
	MaxAttempts uint64
}

// defaults for retry behaviour when Options leave them zero.
const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxAttempts    = 5
	backoffCap            = 30 * time.Second
)

// Manager owns the client Identity. It is the single holder of the
// credential; other components reach the channel through it rather than
// through any global state.
type Manager struct {
	store    IdentityStore
	registry Registrar
	opts     Options

	// mu guards the cached identity.
	mu    sync.RWMutex
	ident *identity.Identity
}

// NewManager creates a registration manager.
func NewManager(identityStore IdentityStore, registrar Registrar, opts Options) *Manager {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}

	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	return &Manager{
		store:    identityStore,
		registry: registrar,
		opts:     opts,
	}
}

// Restore loads a previously persisted identity and, when it is registered,
// installs it into the channel. A missing identity is not an error.
func (m *Manager) Restore(ctx context.Context) error {
	ident, err := m.store.LoadIdentity(ctx)
	if err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			logger.Info(ctx, "No persisted identity, client is unregistered")

			return nil
		}

		return fmt.Errorf("restore identity: %w", err)
	}

	m.mu.Lock()
	m.ident = ident
	m.mu.Unlock()

	if ident.Registered() {
		m.registry.SetIdentity(ident)
		logger.InfoKV(ctx, "Restored registered identity", "client_id", ident.ClientID, "account", ident.AccountName)
	}

	return nil
}

// Register establishes trust with the server. A fresh keypair is generated,
// the mutual identity exchange is performed (retrying transient failures
// with exponential backoff), and on success the new identity is persisted
// before it replaces the previous one. Permanent rejections halt retries and
// surface to the operator; the prior identity, if any, stays in effect.
func (m *Manager) Register(ctx context.Context, registrationKey string) (*identity.Identity, error) {
	ident, err := identity.New(m.opts.AccountName, m.opts.ServerURL)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("detect hostname: %w", err)
	}

	request := &transport.RegisterRequest{
		AccountName:     m.opts.AccountName,
		RegistrationKey: registrationKey,
		ComputerTitle:   m.opts.ComputerTitle,
		Hostname:        hostname,
		PublicKey:       base64.StdEncoding.EncodeToString(ident.PublicKey),
	}

	backoff := retry.WithMaxRetries(m.opts.MaxAttempts-1,
		retry.WithCappedDuration(backoffCap, retry.NewExponential(m.opts.InitialBackoff)))

	var response *transport.RegisterResponse

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var attemptErr error

		response, attemptErr = m.registry.Register(ctx, request)
		if attemptErr == nil {
			return nil
		}

		if transport.Retryable(attemptErr) {
			logger.WarnKV(ctx, "Registration attempt failed, will retry", "error", attemptErr)

			return retry.RetryableError(attemptErr)
		}

		return attemptErr
	})
	if err != nil {
		return nil, fmt.Errorf("register with %s: %w", m.opts.ServerURL, err)
	}

	ident.ClientID = response.ClientID
	ident.SecureID = response.SecureID
	ident.Status = identity.StatusRegistered
	ident.RegisteredAt = time.Now().UTC()

	// Persist before acting on the new credential. The save atomically
	// invalidates any prior identity.
	if err = m.store.SaveIdentity(ctx, ident); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}

	m.mu.Lock()
	m.ident = ident
	m.mu.Unlock()

	m.registry.SetIdentity(ident)

	logger.InfoKV(ctx, "Registration succeeded", "client_id", ident.ClientID, "account", ident.AccountName)

	return ident.Clone(), nil
}

// Identity returns a copy of the current identity, nil when unregistered.
func (m *Manager) Identity() *identity.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ident.Clone()
}

// Registered reports whether the client holds a usable credential.
func (m *Manager) Registered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ident.Registered()
}

package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/juanmitaboada/landscape-client/internal/domain/identity"
	"github.com/juanmitaboada/landscape-client/internal/logger"
	"github.com/juanmitaboada/landscape-client/internal/transport"
	"github.com/juanmitaboada/landscape-client/internal/version"
)

// shutdownTimeout bounds the graceful stop of the control server.
const shutdownTimeout = 5 * time.Second

// Registrar is the registration surface the control server needs.
type Registrar interface {
	Register(ctx context.Context, registrationKey string) (*identity.Identity, error)
	Identity() *identity.Identity
}

// Flusher triggers an immediate exchange with the server.
type Flusher interface {
	Flush(ctx context.Context) error
}

// QueueInspector reports the persistent report queue depth.
type QueueInspector interface {
	ReportQueueDepth(ctx context.Context) (int, error)
}

// Server serves the local administration API on a unix socket.
type Server struct {
	socketPath string
	registrar  Registrar
	flusher    Flusher
	queue      QueueInspector
	metrics    http.Handler
}

// NewServer creates a control server.
func NewServer(socketPath string, registrar Registrar, flusher Flusher,
	queue QueueInspector, metricsHandler http.Handler,
) *Server {
	return &Server{
		socketPath: socketPath,
		registrar:  registrar,
		flusher:    flusher,
		queue:      queue,
		metrics:    metricsHandler,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Get("/status", s.handleStatus)
		r.Post("/exchange", s.handleExchange)
	})

	r.Method(http.MethodGet, "/metrics", s.metrics)

	return r
}

// Run serves the API until the context is cancelled. A stale socket left by
// a previous run is removed first.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}

	// Local administrators only.
	if err = os.Chmod(s.socketPath, 0o660); err != nil {
		_ = listener.Close()

		return fmt.Errorf("chmod control socket: %w", err)
	}

	server := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	logger.InfoKV(ctx, "Control socket listening", "path", s.socketPath)

	select {
	case err = <-errCh:
		return fmt.Errorf("control server: %w", err)
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err = server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("stop control server: %w", err)
	}

	_ = os.Remove(s.socketPath)

	return nil
}

// RegisterRequest is the body of POST /v1/register.
type RegisterRequest struct {
	RegistrationKey string `json:"registration_key,omitempty"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Version      string    `json:"version"`
	Status       string    `json:"status"`
	ClientID     string    `json:"client_id,omitempty"`
	AccountName  string    `json:"account_name,omitempty"`
	ServerURL    string    `json:"server_url,omitempty"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`
	QueueDepth   int       `json:"queue_depth"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")

			return
		}
	}

	ident, err := s.registrar.Register(r.Context(), req.RegistrationKey)
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrInvalidSecret):
			respondError(w, http.StatusUnauthorized, "registration key rejected")
		case errors.Is(err, transport.ErrAuthRejected):
			respondError(w, http.StatusForbidden, "registration rejected by server")
		case errors.Is(err, transport.ErrUnavailable):
			respondError(w, http.StatusServiceUnavailable, "server unavailable")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}

		return
	}

	respondJSON(w, http.StatusOK, s.statusFor(r.Context(), ident))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.statusFor(r.Context(), s.registrar.Identity()))
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	if err := s.flusher.Flush(r.Context()); err != nil {
		switch {
		case errors.Is(err, transport.ErrNotRegistered):
			respondError(w, http.StatusConflict, "client is not registered")
		case errors.Is(err, transport.ErrUnavailable):
			respondError(w, http.StatusBadGateway, "server unavailable")
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}

		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"exchanged": true})
}

// statusFor assembles the status body for an identity snapshot.
func (s *Server) statusFor(ctx context.Context, ident *identity.Identity) StatusResponse {
	response := StatusResponse{
		Version: version.Short(),
		Status:  string(identity.StatusUnregistered),
	}

	if ident != nil {
		response.Status = string(ident.Status)
		response.ClientID = ident.ClientID
		response.AccountName = ident.AccountName
		response.ServerURL = ident.ServerURL
		response.RegisteredAt = ident.RegisteredAt
	}

	depth, err := s.queue.ReportQueueDepth(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Queue depth lookup failed", "error", err)
	} else {
		response.QueueDepth = depth
	}

	return response
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State tracks a command through its write-ahead lifecycle. Every transition
// is persisted before the daemon acts on it so that a restart can replay
// non-terminal records deterministically.
type State string

const (
	// StateReceived means the command arrived and passed basic validation.
	StateReceived State = "received"
	// StateExecuting means a worker picked the command up.
	StateExecuting State = "executing"
	// StateCompleted means the handler finished and the result is persisted
	// but not yet acknowledged by the server.
	StateCompleted State = "completed"
	// StateFailed means execution failed; the failure result is persisted
	// but not yet acknowledged by the server.
	StateFailed State = "failed"
	// StateDelivered means the result was acknowledged by the server.
	// This is the only terminal state.
	StateDelivered State = "delivered"
)

// Terminal reports whether no further work remains for a command in this state.
func (s State) Terminal() bool {
	return s == StateDelivered
}

// ResultStatus classifies a command outcome.
type ResultStatus string

const (
	// ResultSucceeded marks a successful execution.
	ResultSucceeded ResultStatus = "succeeded"
	// ResultFailed marks a failed execution.
	ResultFailed ResultStatus = "failed"
)

var (
	// ErrMalformed is returned when a command is missing required fields.
	ErrMalformed = errors.New("malformed command")
	// ErrUnknownKind is returned when no handler is registered for a kind.
	ErrUnknownKind = errors.New("unknown command kind")
	// ErrPermissionDenied is returned when a handler refuses the principal.
	ErrPermissionDenied = errors.New("permission denied")
)

// Command is a remotely issued administrative instruction.
type Command struct {
	// ID is the server-assigned unique identifier.
	ID string `json:"id"`
	// Kind selects the handler (power, process, user, network, script, ...).
	Kind string `json:"kind"`
	// Params carries handler-specific parameters.
	Params json.RawMessage `json:"params,omitempty"`
	// Principal is the server-side identity that issued the command.
	Principal string `json:"principal,omitempty"`
	// Target optionally narrows the command to a specific object
	// (a process id, an interface name, a user name).
	Target string `json:"target,omitempty"`
	// ReceivedAt is when the daemon accepted the command.
	ReceivedAt time.Time `json:"received_at"`
	// State is the current write-ahead lifecycle state.
	State State `json:"state"`
	// Attempts counts execution attempts, including resumed ones.
	Attempts int `json:"attempts"`
	// Result is the structured outcome, set once execution finishes.
	Result *Result `json:"result,omitempty"`
}

// Result is the structured outcome of a command execution. It is reported
// upstream exactly once; idempotent re-reports are tolerated.
type Result struct {
	// CommandID links the result to its command.
	CommandID string `json:"command_id"`
	// Status is the outcome classification.
	Status ResultStatus `json:"status"`
	// Payload carries handler-specific output on success.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Error is the failure description, empty on success.
	Error string `json:"error,omitempty"`
	// CompletedAt is when execution finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Validate checks the command carries the fields every handler relies on.
func (c *Command) Validate() error {
	if c == nil {
		return ErrMalformed
	}

	if c.ID == "" {
		return fmt.Errorf("missing id: %w", ErrMalformed)
	}

	if c.Kind == "" {
		return fmt.Errorf("missing kind: %w", ErrMalformed)
	}

	return nil
}

// Succeeded builds a success result for the command.
func (c *Command) Succeeded(payload json.RawMessage) *Result {
	return &Result{
		CommandID:   c.ID,
		Status:      ResultSucceeded,
		Payload:     payload,
		CompletedAt: time.Now().UTC(),
	}
}

// Failed builds a failure result for the command.
func (c *Command) Failed(err error) *Result {
	message := "unknown failure"
	if err != nil {
		message = err.Error()
	}

	return &Result{
		CommandID:   c.ID,
		Status:      ResultFailed,
		Error:       message,
		CompletedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Params = append(json.RawMessage(nil), c.Params...)

	if c.Result != nil {
		result := *c.Result
		result.Payload = append(json.RawMessage(nil), c.Result.Payload...)
		cloned.Result = &result
	}

	return &cloned
}

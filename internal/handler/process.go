package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"syscall"

	ps "github.com/mitchellh/go-ps"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/logger"
)

// signalByName maps the supported signal names.
var signalByName = map[string]syscall.Signal{
	"TERM": syscall.SIGTERM,
	"KILL": syscall.SIGKILL,
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

// Process ends or signals running processes. The command target is the
// numeric process id.
type Process struct {
	// find looks a process up; a seam for tests.
	find func(pid int) (ps.Process, error)
	// kill delivers the signal; a seam for tests.
	kill func(pid int, sig syscall.Signal) error
}

// NewProcess creates the process handler.
func NewProcess() *Process {
	return &Process{
		find: ps.FindProcess,
		kill: syscall.Kill,
	}
}

// processParams are the parameters of a process command.
type processParams struct {
	// Action is "terminate", "kill" or "signal".
	Action string `json:"action"`
	// Signal names the signal for the "signal" action (TERM, KILL, HUP, ...).
	Signal string `json:"signal,omitempty"`
}

// Kind implements the registry handler contract.
func (h *Process) Kind() string { return "process" }

// Execute signals the target process after confirming it exists.
func (h *Process) Execute(ctx context.Context, cmd *command.Command) (json.RawMessage, error) {
	if err := requirePrincipal(cmd); err != nil {
		return nil, err
	}

	var params processParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}

	pid, err := strconv.Atoi(cmd.Target)
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("invalid process target %q: %w", cmd.Target, command.ErrMalformed)
	}

	var sig syscall.Signal

	switch params.Action {
	case "terminate":
		sig = syscall.SIGTERM
	case "kill":
		sig = syscall.SIGKILL
	case "signal":
		named, ok := signalByName[params.Signal]
		if !ok {
			return nil, fmt.Errorf("unknown signal %q: %w", params.Signal, command.ErrMalformed)
		}

		sig = named
	default:
		return nil, fmt.Errorf("unknown process action %q: %w", params.Action, command.ErrMalformed)
	}

	proc, err := h.find(pid)
	if err != nil {
		return nil, fmt.Errorf("look up pid %d: %w", pid, err)
	}

	if proc == nil {
		return nil, fmt.Errorf("no such process %d", pid)
	}

	logger.InfoKV(ctx, "Signalling process",
		"pid", pid, "executable", proc.Executable(), "signal", sig, "principal", cmd.Principal)

	if err = h.kill(pid, sig); err != nil {
		return nil, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	return json.Marshal(map[string]any{
		"pid":        pid,
		"executable": proc.Executable(),
		"signal":     sig.String(),
	})
}

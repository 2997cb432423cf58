package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/logger"
)

// Power schedules machine shutdown and restart through the system
// shutdown tool.
type Power struct {
	run runner
}

// NewPower creates the power handler.
func NewPower() *Power {
	return &Power{run: execRunner}
}

// powerParams are the parameters of a power command.
type powerParams struct {
	// Action is "shutdown" or "restart".
	Action string `json:"action"`
	// DelayMinutes postpones the action; zero means immediately.
	DelayMinutes int `json:"delay_minutes"`
}

// Kind implements the registry handler contract.
func (h *Power) Kind() string { return "power" }

// Execute schedules the requested power action. The shutdown tool takes over
// once scheduling succeeds, so the payload only confirms acceptance.
func (h *Power) Execute(ctx context.Context, cmd *command.Command) (json.RawMessage, error) {
	if err := requirePrincipal(cmd); err != nil {
		return nil, err
	}

	var params powerParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}

	var flag string

	switch params.Action {
	case "shutdown":
		flag = "-h"
	case "restart":
		flag = "-r"
	default:
		return nil, fmt.Errorf("unknown power action %q: %w", params.Action, command.ErrMalformed)
	}

	when := "now"
	if params.DelayMinutes > 0 {
		when = "+" + strconv.Itoa(params.DelayMinutes)
	}

	logger.WarnKV(ctx, "Scheduling power action",
		"action", params.Action, "when", when, "principal", cmd.Principal)

	if _, err := h.run(ctx, "shutdown", flag, when); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"action":    params.Action,
		"scheduled": when,
	})
}

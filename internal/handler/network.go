package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/logger"
)

// Network brings interfaces up and down via `ip link`. The command target
// is the interface name.
type Network struct {
	run runner
	// lookup confirms the interface exists; a seam for tests.
	lookup func(name string) (*net.Interface, error)
}

// NewNetwork creates the network handler.
func NewNetwork() *Network {
	return &Network{
		run:    execRunner,
		lookup: net.InterfaceByName,
	}
}

// networkParams are the parameters of a network command.
type networkParams struct {
	// Action is "up" or "down".
	Action string `json:"action"`
}

// Kind implements the registry handler contract.
func (h *Network) Kind() string { return "network" }

// Execute toggles the target interface after confirming it exists.
func (h *Network) Execute(ctx context.Context, cmd *command.Command) (json.RawMessage, error) {
	if err := requirePrincipal(cmd); err != nil {
		return nil, err
	}

	var params networkParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}

	if params.Action != "up" && params.Action != "down" {
		return nil, fmt.Errorf("unknown network action %q: %w", params.Action, command.ErrMalformed)
	}

	name := cmd.Target
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid interface name %q: %w", name, command.ErrMalformed)
	}

	iface, err := h.lookup(name)
	if err != nil {
		return nil, fmt.Errorf("look up interface %q: %w", name, err)
	}

	logger.WarnKV(ctx, "Changing interface state",
		"interface", name, "action", params.Action, "principal", cmd.Principal)

	if _, err = h.run(ctx, "ip", "link", "set", name, params.Action); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"interface": iface.Name,
		"action":    params.Action,
	})
}

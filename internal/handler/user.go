package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/logger"
)

// User manages local accounts through the standard shadow tools. The
// command target is the account name.
type User struct {
	run runner
}

// NewUser creates the user handler.
func NewUser() *User {
	return &User{run: execRunner}
}

// userParams are the parameters of a user command.
type userParams struct {
	// Action is "add", "remove", "lock" or "unlock".
	Action string `json:"action"`
	// Home requests a home directory for "add" and its removal for "remove".
	Home bool `json:"home,omitempty"`
	// Comment is the GECOS field for "add".
	Comment string `json:"comment,omitempty"`
}

// Kind implements the registry handler contract.
func (h *User) Kind() string { return "user" }

// Execute applies the account change.
func (h *User) Execute(ctx context.Context, cmd *command.Command) (json.RawMessage, error) {
	if err := requirePrincipal(cmd); err != nil {
		return nil, err
	}

	var params userParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}

	name := cmd.Target
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid user name %q: %w", name, command.ErrMalformed)
	}

	var (
		tool string
		args []string
	)

	switch params.Action {
	case "add":
		tool = "useradd"

		if params.Home {
			args = append(args, "-m")
		}

		if params.Comment != "" {
			args = append(args, "-c", params.Comment)
		}

		args = append(args, name)
	case "remove":
		tool = "userdel"

		if params.Home {
			args = append(args, "-r")
		}

		args = append(args, name)
	case "lock":
		tool, args = "usermod", []string{"-L", name}
	case "unlock":
		tool, args = "usermod", []string{"-U", name}
	default:
		return nil, fmt.Errorf("unknown user action %q: %w", params.Action, command.ErrMalformed)
	}

	logger.InfoKV(ctx, "Applying user action",
		"action", params.Action, "user", name, "principal", cmd.Principal)

	if _, err := h.run(ctx, tool, args...); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"action": params.Action,
		"user":   name,
	})
}

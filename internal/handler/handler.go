package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
)

// runner executes a system tool and returns its combined output. Handlers
// take it as a seam so tests never touch the real system.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRunner is the production runner.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s: %w (%s)", name, err, bytes.TrimSpace(output))
	}

	return output, nil
}

// validName restricts user and interface names to safe characters to keep
// them out of shell-adjacent trouble.
var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@-]*$`)

// decodeParams unmarshals command parameters into the handler's own shape.
func decodeParams(cmd *command.Command, into any) error {
	if len(cmd.Params) == 0 {
		return fmt.Errorf("missing params: %w", command.ErrMalformed)
	}

	if err := json.Unmarshal(cmd.Params, into); err != nil {
		return fmt.Errorf("decode params: %w: %w", err, command.ErrMalformed)
	}

	return nil
}

// requirePrincipal rejects commands issued without an authenticated
// server-side identity.
func requirePrincipal(cmd *command.Command) error {
	if cmd.Principal == "" {
		return fmt.Errorf("command %s has no principal: %w", cmd.ID, command.ErrPermissionDenied)
	}

	return nil
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/logger"
)

// maxScriptOutput caps each captured output stream.
const maxScriptOutput = 1 << 20 // 1 MiB

// defaultScriptTimeout bounds scripts that do not set their own timeout.
const defaultScriptTimeout = 5 * time.Minute

// Script executes server-supplied scripts with a bounded runtime and
// bounded captured output.
type Script struct {
	// workDir is where script files are materialized; empty means the
	// system temp directory.
	workDir string
}

// NewScript creates the script handler.
func NewScript(workDir string) *Script {
	return &Script{workDir: workDir}
}

// scriptParams are the parameters of a script command.
type scriptParams struct {
	// Interpreter is the program to run the script with, e.g. /bin/sh.
	Interpreter string `json:"interpreter"`
	// Code is the script body.
	Code string `json:"code"`
	// TimeoutSeconds bounds the runtime; zero means the default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// scriptResult is the payload reported for a script execution.
type scriptResult struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated"`
	Duration  string `json:"duration"`
}

// limitWriter keeps the first limit bytes and silently discards the rest,
// reporting full writes so it never fails the running command.
type limitWriter struct {
	buf   bytes.Buffer
	limit int
	total int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	w.total += len(p)

	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}

	if len(p) > remaining {
		p = p[:remaining]
	}

	w.buf.Write(p)

	return len(p), nil
}

func (w *limitWriter) truncated() bool { return w.total > w.limit }

// Kind implements the registry handler contract.
func (h *Script) Kind() string { return "script" }

// Execute materializes the script, runs it under the requested interpreter
// and reports exit code plus capped output. A failing script is a valid
// result, not a handler error; only setup problems fail the command.
func (h *Script) Execute(ctx context.Context, cmd *command.Command) (json.RawMessage, error) {
	if err := requirePrincipal(cmd); err != nil {
		return nil, err
	}

	var params scriptParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}

	if params.Interpreter == "" || !filepath.IsAbs(params.Interpreter) {
		return nil, fmt.Errorf("interpreter must be an absolute path: %w", command.ErrMalformed)
	}

	if params.Code == "" {
		return nil, fmt.Errorf("empty script body: %w", command.ErrMalformed)
	}

	timeout := defaultScriptTimeout
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}

	scriptPath, cleanup, err := h.materialize(cmd.ID, params.Code)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &limitWriter{limit: maxScriptOutput}
	stderr := &limitWriter{limit: maxScriptOutput}

	logger.InfoKV(ctx, "Running script",
		"command_id", cmd.ID, "interpreter", params.Interpreter,
		"timeout", timeout, "principal", cmd.Principal)

	start := time.Now()

	run := exec.CommandContext(runCtx, params.Interpreter, scriptPath)
	run.Stdout = stdout
	run.Stderr = stderr

	runErr := run.Run()
	duration := time.Since(start)

	result := scriptResult{
		Stdout:    stdout.buf.String(),
		Stderr:    stderr.buf.String(),
		Truncated: stdout.truncated() || stderr.truncated(),
		Duration:  duration.Round(time.Millisecond).String(),
	}

	switch {
	case runErr == nil:
		result.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("script exceeded timeout %s", timeout)
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("run script: %w", runErr)
		}

		result.ExitCode = exitErr.ExitCode()
	}

	return json.Marshal(result)
}

// materialize writes the script body to a private file and returns its path
// with a cleanup function.
func (h *Script) materialize(commandID, code string) (string, func(), error) {
	dir := h.workDir
	if dir == "" {
		dir = os.TempDir()
	}

	file, err := os.CreateTemp(dir, "landscape-script-"+commandID+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("create script file: %w", err)
	}

	path := file.Name()
	cleanup := func() { _ = os.Remove(path) }

	if _, err = file.WriteString(code); err != nil {
		_ = file.Close()

		cleanup()

		return "", nil, fmt.Errorf("write script file: %w", err)
	}

	if err = file.Chmod(0o700); err != nil {
		_ = file.Close()

		cleanup()

		return "", nil, fmt.Errorf("chmod script file: %w", err)
	}

	if err = file.Close(); err != nil {
		cleanup()

		return "", nil, fmt.Errorf("close script file: %w", err)
	}

	return path, cleanup, nil
}

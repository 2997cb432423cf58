package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
	"github.com/juanmitaboada/landscape-client/internal/logger"
	"github.com/juanmitaboada/landscape-client/internal/metrics"
	"github.com/juanmitaboada/landscape-client/internal/registry"
	"github.com/juanmitaboada/landscape-client/internal/store"
	"github.com/juanmitaboada/landscape-client/internal/transport"
)

// CommandStore is the persistence surface the executor needs.
type CommandStore interface {
	PutCommand(ctx context.Context, cmd *command.Command) error
	GetCommand(ctx context.Context, id string) (*command.Command, error)
	CommandsInStates(ctx context.Context, states ...command.State) ([]*command.Command, error)
	PruneDelivered(ctx context.Context, olderThan time.Time) error
}

// Exchanger is the channel surface the executor needs.
type Exchanger interface {
	Exchange(ctx context.Context, messages []transport.Message) (*transport.ExchangeResult, error)
}

// Options configures the executor.
type Options struct {
	// Workers is the number of concurrent command executions.
	Workers int
	// ShutdownGrace is how long in-flight executions may run after the
	// run context is cancelled.
	ShutdownGrace time.Duration
	// SweepInterval is the cadence of the dispatch/delivery sweep. The
	// sweep also wakes immediately on Receive.
	SweepInterval time.Duration
	// RetainDelivered is how long terminal records are kept for audit.
	RetainDelivered time.Duration
}

// defaults applied when Options leave fields zero.
const (
	defaultWorkers         = 4
	defaultShutdownGrace   = 10 * time.Second
	defaultSweepInterval   = 5 * time.Second
	defaultRetainDelivered = 24 * time.Hour
)

// Executor receives remote commands, dispatches them through the plugin
// registry and reports each result upstream exactly once. Every lifecycle
// transition is persisted before the executor acts on it, so a restart
// resolves in-flight commands deterministically.
type Executor struct {
	store    CommandStore
	channel  Exchanger
	registry *registry.Registry
	metrics  *metrics.Metrics
	opts     Options

	// wake nudges the run loop after a command is accepted.
	wake chan struct{}

	// slots bounds concurrent executions.
	slots chan struct{}

	// inflight tracks running handler goroutines for the grace period.
	inflight sync.WaitGroup
}

// New creates an executor.
func New(commandStore CommandStore, channel Exchanger, reg *registry.Registry,
	m *metrics.Metrics, opts Options,
) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	if opts.RetainDelivered <= 0 {
		opts.RetainDelivered = defaultRetainDelivered
	}

	return &Executor{
		store:    commandStore,
		channel:  channel,
		registry: reg,
		metrics:  m,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		slots:    make(chan struct{}, opts.Workers),
	}
}

// Receive accepts an inbound command. The command is validated, checked
// against the registry and persisted before the call returns; execution
// happens asynchronously so receipt of subsequent commands is never blocked.
// Re-delivery of an already known command is ignored.
func (e *Executor) Receive(ctx context.Context, cmd *command.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	// The server re-delivers commands whose results it has not seen yet.
	if _, err := e.store.GetCommand(ctx, cmd.ID); err == nil {
		logger.DebugKV(ctx, "Duplicate command ignored", "command_id", cmd.ID)

		return nil
	} else if !errors.Is(err, store.ErrCommandNotFound) {
		return fmt.Errorf("check command: %w", err)
	}

	accepted := cmd.Clone()
	accepted.ReceivedAt = time.Now().UTC()

	if _, err := e.registry.Dispatch(accepted.Kind); err != nil {
		// Unknown kinds still produce a failed result upstream; the
		// caller additionally sees the typed refusal.
		accepted.State = command.StateFailed
		accepted.Result = accepted.Failed(err)

		if putErr := e.store.PutCommand(ctx, accepted); putErr != nil {
			return fmt.Errorf("persist refused command: %w", putErr)
		}

		e.nudge()

		return err
	}

	accepted.State = command.StateReceived

	if err := e.store.PutCommand(ctx, accepted); err != nil {
		return fmt.Errorf("persist command: %w", err)
	}

	logger.InfoKV(ctx, "Command accepted",
		"command_id", accepted.ID, "kind", accepted.Kind, "principal", accepted.Principal)

	e.nudge()

	return nil
}

// Run drives dispatch and result delivery until the context is cancelled,
// then grants in-flight executions the shutdown grace period.
func (e *Executor) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "executor")

	if err := e.recover(ctx); err != nil {
		return err
	}

	// Handlers run on a context that survives shutdown for the grace
	// period, so they can persist partial state.
	execCtx, execCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer execCancel()

	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	logger.InfoKV(ctx, "Executor started", "workers", e.opts.Workers, "kinds", e.registry.Kinds())

	for {
		select {
		case <-ctx.Done():
			return e.drain(execCtx, execCancel)
		case <-e.wake:
		case <-ticker.C:
		}

		e.dispatchPending(ctx, execCtx)

		if err := e.deliverResults(ctx); err != nil {
			logger.WarnKV(ctx, "Result delivery failed", "error", err)
		}
	}
}

// recover resolves records left over from a previous run: commands caught
// mid-execution are failed deterministically (their handlers may have had
// externally visible effects, so re-running is not safe), while persisted
// but undelivered results simply await the next delivery sweep.
func (e *Executor) recover(ctx context.Context) error {
	interrupted, err := e.store.CommandsInStates(ctx, command.StateExecuting)
	if err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}

	for _, cmd := range interrupted {
		cmd.State = command.StateFailed
		cmd.Result = cmd.Failed(errors.New("execution interrupted by daemon restart"))

		if err = e.store.PutCommand(ctx, cmd); err != nil {
			return fmt.Errorf("persist interrupted command: %w", err)
		}

		logger.WarnKV(ctx, "Command interrupted by restart marked failed", "command_id", cmd.ID)
	}

	if err = e.store.PruneDelivered(ctx, time.Now().UTC().Add(-e.opts.RetainDelivered)); err != nil {
		logger.WarnKV(ctx, "Prune of delivered commands failed", "error", err)
	}

	return nil
}

// dispatchPending hands persisted received commands to workers, oldest first.
func (e *Executor) dispatchPending(ctx, execCtx context.Context) {
	pending, err := e.store.CommandsInStates(ctx, command.StateReceived)
	if err != nil {
		logger.ErrorKV(ctx, "Dispatch scan failed", "error", err)

		return
	}

	for _, cmd := range pending {
		select {
		case e.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		cmd.State = command.StateExecuting
		cmd.Attempts++

		if err = e.store.PutCommand(ctx, cmd); err != nil {
			<-e.slots

			logger.ErrorKV(ctx, "Persist executing state failed", "command_id", cmd.ID, "error", err)

			continue
		}

		e.inflight.Add(1)

		go e.execute(execCtx, cmd)
	}
}

// execute runs one command through its handler and persists the outcome.
func (e *Executor) execute(ctx context.Context, cmd *command.Command) {
	defer func() {
		<-e.slots

		e.inflight.Done()
	}()

	handler, err := e.registry.Dispatch(cmd.Kind)
	if err != nil {
		e.finish(ctx, cmd, nil, err)

		return
	}

	payload, err := handler.Execute(ctx, cmd)
	e.finish(ctx, cmd, payload, err)
}

// finish persists the structured result for later delivery.
func (e *Executor) finish(ctx context.Context, cmd *command.Command, payload json.RawMessage, execErr error) {
	if execErr != nil {
		cmd.State = command.StateFailed
		cmd.Result = cmd.Failed(execErr)

		e.metrics.CommandsExecuted.WithLabelValues(string(command.ResultFailed)).Inc()
		logger.WarnKV(ctx, "Command failed", "command_id", cmd.ID, "kind", cmd.Kind, "error", execErr)
	} else {
		cmd.State = command.StateCompleted
		cmd.Result = cmd.Succeeded(payload)

		e.metrics.CommandsExecuted.WithLabelValues(string(command.ResultSucceeded)).Inc()
		logger.InfoKV(ctx, "Command completed", "command_id", cmd.ID, "kind", cmd.Kind)
	}

	if err := e.store.PutCommand(ctx, cmd); err != nil {
		// The record stays in executing state and the recovery pass will
		// fail it deterministically on the next start.
		logger.ErrorKV(ctx, "Persist result failed", "command_id", cmd.ID, "error", err)

		return
	}

	e.nudge()
}

// deliverResults reports persisted results upstream in completion order and
// marks acknowledged commands delivered. Stable message ids make re-reports
// idempotent on the server.
func (e *Executor) deliverResults(ctx context.Context) error {
	finished, err := e.store.CommandsInStates(ctx, command.StateCompleted, command.StateFailed)
	if err != nil {
		return fmt.Errorf("delivery scan: %w", err)
	}

	if len(finished) == 0 {
		return nil
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].Result.CompletedAt.Before(finished[j].Result.CompletedAt)
	})

	messages := make([]transport.Message, 0, len(finished))
	byMessageID := make(map[string]*command.Command, len(finished))

	for _, cmd := range finished {
		payload, marshalErr := json.Marshal(cmd.Result)
		if marshalErr != nil {
			return fmt.Errorf("encode result: %w", marshalErr)
		}

		id := "result-" + cmd.ID
		byMessageID[id] = cmd

		messages = append(messages, transport.Message{
			ID:      id,
			Type:    transport.MessageTypeCommandResult,
			Payload: payload,
		})
	}

	result, err := e.channel.Exchange(ctx, messages)
	if err != nil {
		// Results stay pending until the client registers.
		if errors.Is(err, transport.ErrNotRegistered) {
			return nil
		}

		e.metrics.ExchangeFailures.Inc()

		return fmt.Errorf("exchange results: %w", err)
	}

	for _, id := range result.AcceptedIDs {
		cmd, ok := byMessageID[id]
		if !ok {
			continue
		}

		cmd.State = command.StateDelivered

		if err = e.store.PutCommand(ctx, cmd); err != nil {
			return fmt.Errorf("persist delivery: %w", err)
		}
	}

	// Commands may ride on any exchange response.
	for _, cmd := range result.Commands {
		if recvErr := e.Receive(ctx, cmd); recvErr != nil {
			logger.WarnKV(ctx, "Inbound command refused", "command_id", cmd.ID, "error", recvErr)
		}
	}

	return nil
}

// drain waits out the grace period for in-flight executions, then cancels
// them and makes a final delivery attempt for persisted results.
func (e *Executor) drain(execCtx context.Context, execCancel context.CancelFunc) error {
	done := make(chan struct{})

	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.opts.ShutdownGrace):
		logger.Warn(execCtx, "Shutdown grace expired, abandoning in-flight commands")
		execCancel()
		<-done
	}

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(execCtx), e.opts.ShutdownGrace)
	defer cancel()

	if err := e.deliverResults(graceCtx); err != nil {
		// Results are persisted; the next start delivers them.
		logger.WarnKV(graceCtx, "Final result delivery failed", "error", err)
	}

	return nil
}

// nudge wakes the run loop without blocking.
func (e *Executor) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

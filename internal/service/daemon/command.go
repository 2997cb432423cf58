package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juanmitaboada/landscape-client/internal/collector"
	"github.com/juanmitaboada/landscape-client/internal/config"
	"github.com/juanmitaboada/landscape-client/internal/control"
	"github.com/juanmitaboada/landscape-client/internal/executor"
	"github.com/juanmitaboada/landscape-client/internal/handler"
	"github.com/juanmitaboada/landscape-client/internal/logger"
	"github.com/juanmitaboada/landscape-client/internal/metrics"
	"github.com/juanmitaboada/landscape-client/internal/registration"
	"github.com/juanmitaboada/landscape-client/internal/registry"
	"github.com/juanmitaboada/landscape-client/internal/reporter"
	"github.com/juanmitaboada/landscape-client/internal/store"
	"github.com/juanmitaboada/landscape-client/internal/transport"
	"github.com/juanmitaboada/landscape-client/internal/version"
)

// Options controls the client daemon process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerURL provides an optional server URL override.
	ServerURL string
	// AccountName provides an optional account name override.
	AccountName string
}

var (
	// ErrConfiguration wraps settings problems detected at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrRegistration wraps a failed startup registration.
	ErrRegistration = errors.New("registration failed")
)

// Run starts the daemon and blocks until the context is cancelled or a
// component fails. Registration state is restored from the store; an
// unregistered client with credentials configured registers before the
// loops start.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "landscape-client")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}

	if opts.AccountName != "" {
		cfg.AccountName = opts.AccountName
	}

	if err = config.Validate(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	logger.InfoKV(ctx, "Starting client daemon",
		"version", version.Short(), "server_url", cfg.ServerURL, "data_dir", cfg.DataDir)

	if err = os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("%w: create data directory: %w", ErrConfiguration, err)
	}

	st, err := store.Open(cfg.DatabasePath(), cfg.QueueDepth)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Store close failed", "error", closeErr)
		}
	}()

	if err = markStartup(ctx, st); err != nil {
		return err
	}

	defer func() {
		if flagErr := st.SetFlag(context.WithoutCancel(ctx), uncleanShutdownFlag, false); flagErr != nil {
			logger.WarnKV(ctx, "Recording clean shutdown failed", "error", flagErr)
		}
	}()

	channel := transport.NewChannel(cfg.ServerURL, cfg.HTTPTimeout, st)

	manager := registration.NewManager(st, channel, registration.Options{
		ServerURL:     cfg.ServerURL,
		AccountName:   cfg.AccountName,
		ComputerTitle: cfg.ComputerTitle,
	})

	if err = manager.Restore(ctx); err != nil {
		return fmt.Errorf("restore identity: %w", err)
	}

	m := metrics.New()

	scriptDir := filepath.Join(cfg.DataDir, "scripts")
	if err = os.MkdirAll(scriptDir, 0o700); err != nil {
		return fmt.Errorf("create script directory: %w", err)
	}

	reg := registry.New()
	reg.Register(handler.NewPower())
	reg.Register(handler.NewProcess())
	reg.Register(handler.NewUser())
	reg.Register(handler.NewNetwork())
	reg.Register(handler.NewScript(scriptDir))

	exec := executor.New(st, channel, reg, m, executor.Options{
		Workers:       cfg.ExecutionWorkers,
		ShutdownGrace: cfg.ShutdownGrace,
	})

	rep := reporter.New(st, channel, exec, m, reporter.Options{
		DefaultSchedule: cfg.ReportInterval,
		FlushInterval:   cfg.ExchangeInterval,
	})

	for _, c := range []collector.Collector{
		collector.NewHardware(cfg.ReportInterval),
		collector.NewProcesses(cfg.ReportInterval),
		collector.NewNetwork(cfg.ReportInterval),
		collector.NewPackages(cfg.ReportInterval),
		collector.NewAdvantage(cfg.ReportInterval),
	} {
		rep.Register(c)
	}

	ctl := control.NewServer(cfg.ControlSocket, manager, rep, st, m.Handler())

	runners := []func(context.Context) error{rep.Run, exec.Run, ctl.Run}

	// The control socket must be reachable while unregistered so the
	// operator can register through it. Startup registration only runs when
	// a key is configured; its permanent rejection stops the daemon.
	if !manager.Registered() {
		if cfg.RegistrationKey != "" {
			runners = append(runners, func(ctx context.Context) error {
				return registerUntilDone(ctx, manager, cfg.RegistrationKey)
			})
		} else {
			logger.Info(ctx, "Client is unregistered, waiting for registration over the control socket")
		}
	}

	return supervise(ctx, runners...)
}

// uncleanShutdownFlag is raised for the lifetime of a run and lowered again
// on a graceful stop, so the next start can tell a crash from a restart.
const uncleanShutdownFlag = "unclean-shutdown"

// markStartup notes an unclean previous stop and raises the flag for the
// duration of this run.
func markStartup(ctx context.Context, st *store.Store) error {
	unclean, err := st.GetFlag(ctx, uncleanShutdownFlag)
	if err != nil {
		return fmt.Errorf("read shutdown flag: %w", err)
	}

	if unclean {
		logger.Warn(ctx, "Previous run did not stop cleanly, recovery pass will resolve in-flight commands")
	}

	return st.SetFlag(ctx, uncleanShutdownFlag, true)
}

// registrationPause spaces out registration rounds when the server stays
// unreachable past the manager's own backoff.
const registrationPause = 30 * time.Second

// registerUntilDone registers the client, retrying indefinitely while the
// server is unreachable. A permanent rejection stops the daemon.
func registerUntilDone(ctx context.Context, manager *registration.Manager, registrationKey string) error {
	for {
		_, err := manager.Register(ctx, registrationKey)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}

		if !transport.Retryable(err) {
			return fmt.Errorf("%w: %w", ErrRegistration, err)
		}

		logger.WarnKV(ctx, "Registration unreachable, will retry",
			"pause", registrationPause, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(registrationPause):
		}
	}
}

// supervise runs all component loops and stops every one of them as soon as
// the context is cancelled or any loop fails.
func supervise(ctx context.Context, runners ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(runners))

	var wg sync.WaitGroup

	for _, run := range runners {
		wg.Add(1)

		go func(run func(context.Context) error) {
			defer wg.Done()

			if err := run(ctx); err != nil {
				errCh <- err

				cancel()
			}
		}(run)
	}

	wg.Wait()
	close(errCh)

	return <-errCh
}

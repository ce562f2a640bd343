package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeanregisser/agent-wallet/internal/config"
	"github.com/jeanregisser/agent-wallet/internal/engine"
	"github.com/jeanregisser/agent-wallet/internal/relay"
	"github.com/jeanregisser/agent-wallet/internal/signer"
	"github.com/jeanregisser/agent-wallet/internal/store"
)

// env is everything a reconciliation command needs, built from the config.
type env struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// newLogger returns a text logger on w. Verbose lowers the level to Debug.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file, applies flag overrides and validates
// the result. Every failure is a command error.
func loadConfig(opts *RootOptions, logger *slog.Logger) (*config.Config, error) {
	path, err := config.Path(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to locate config", err)
	}
	cfg, found, err := config.LoadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger.Debug("config loaded", "path", path, "found", found)

	if opts.Account != "" {
		cfg.Account = opts.Account
	}
	if opts.ChainID != 0 {
		cfg.ChainID = opts.ChainID
	}
	if opts.RelayURL != "" {
		cfg.RelayURL = opts.RelayURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// openEnv wires store, relay client, signer and engine from the config.
// The caller must Close the returned env.
func openEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	logger := newLogger(opts, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return nil, err
	}

	ks, err := signer.NewKeystore(cfg.KeystorePath, os.Getenv(config.EnvPassphrase), opts.KeystoreOptions...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("failed to open keystore (set %s)", config.EnvPassphrase), err)
	}

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open state database", err)
	}
	logger.Debug("state database ready", "path", cfg.StatePath)

	client := relay.New(cfg.RelayURL,
		relay.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		relay.WithLogger(logger),
	)

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	eng := engine.New(client, ks, st,
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(runIDs),
		engine.WithTiming(engine.Timing{
			PollInterval:      cfg.Activation.PollInterval,
			ActivationTimeout: cfg.Activation.Timeout,
			RequestTimeout:    cfg.RequestTimeout,
		}),
	)

	return &env{cfg: cfg, store: st, engine: eng, logger: logger}, nil
}

// Close closes the state database.
func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing state database", "error", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// Package main runs the warden governance kernel: it wires configuration,
// the policy engine, the flight recorder and the signal dispatcher into one
// kernel instance, then relays kernel signals until interrupted. Embedding
// applications use the internal packages directly; this binary is the
// reference wiring.
package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/warden-sh/warden/internal/config"
	"github.com/warden-sh/warden/internal/kernel"
	"github.com/warden-sh/warden/internal/policy"
	"github.com/warden-sh/warden/internal/recorder"
	"github.com/warden-sh/warden/internal/signal"
)

// Dependencies holds the components required to run the kernel.
type Dependencies struct {
	Config   *config.Config
	Kernel   *kernel.Kernel
	Cleanup  func()
	Document *policy.Document
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

// buildDependencies assembles a kernel from configuration. The returned
// cleanup flushes the audit trail and closes the durable store.
func buildDependencies(cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	recOpts := []recorder.Option{
		recorder.WithBatchSize(cfg.Audit.BatchSize),
		recorder.WithLogger(logger),
	}

	var store *recorder.FileStore
	if cfg.Audit.Dir != "" {
		var err error
		store, err = recorder.NewFileStore(filepath.Join(cfg.Audit.Dir, cfg.Audit.File))
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		recOpts = append(recOpts, recorder.WithStore(store))
	}

	rec, err := recorder.New(recOpts...)
	if err != nil {
		return nil, fmt.Errorf("create flight recorder: %w", err)
	}

	kernelOpts := []kernel.KernelOption{
		kernel.WithRecorder(rec),
		kernel.WithDispatcher(signal.NewDispatcher(signal.WithLogger(logger))),
		kernel.WithLogger(logger),
	}

	var doc *policy.Document
	if cfg.Kernel.Permissive {
		kernelOpts = append(kernelOpts, kernel.WithPermissiveMode())
	} else {
		doc, err = policy.LoadDocument(cfg.Policy.Path)
		if err != nil {
			return nil, fmt.Errorf("load policy document: %w", err)
		}
		engineOpts := append(doc.EngineOptions(), policy.WithLogger(logger))
		kernelOpts = append(kernelOpts, kernel.WithEngine(policy.New(engineOpts...)))
	}

	k, err := kernel.New(kernelOpts...)
	if err != nil {
		return nil, err
	}

	if doc != nil {
		for agentID, spec := range doc.Agents {
			if _, err := k.RegisterAgent(agentID, agentID, spec.Capabilities, spec.Attributes); err != nil {
				return nil, fmt.Errorf("register agent %q: %w", agentID, err)
			}
		}
	}

	cleanup := func() {
		if err := rec.Flush(); err != nil {
			logger.Error().Err(err).Msg("final audit flush failed")
		}
		if store != nil {
			store.Close()
		}
	}
	return &Dependencies{Config: cfg, Kernel: k, Cleanup: cleanup, Document: doc}, nil
}

func run(ctx context.Context, deps *Dependencies, logger zerolog.Logger) {
	signals, cancel := deps.Kernel.Subscribe(deps.Config.Kernel.SignalBuffer)
	defer cancel()

	logger.Info().
		Strs("tools", deps.Kernel.ListTools()).
		Bool("permissive", deps.Config.Kernel.Permissive).
		Msg("kernel ready")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return
		case sig := <-signals:
			logger.Info().
				Str("kind", string(sig.Kind)).
				Str("agent_id", sig.AgentID).
				Str("reason", sig.Reason).
				Msg("kernel signal")
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Kernel.LogLevel)

	deps, err := buildDependencies(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build kernel")
		os.Exit(1)
	}
	defer deps.Cleanup()

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run(ctx, deps, logger)
}

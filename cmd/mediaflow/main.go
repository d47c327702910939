// Package main implements the mediaflow command, which builds a media
// pipeline from a configuration file and runs it until it finishes or is
// interrupted.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/config"
	"github.com/c360/mediaflow/engine"
	"github.com/c360/mediaflow/health"
	"github.com/c360/mediaflow/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mediaflow"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if stderrors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(out, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	configManager, err := config.NewManager(cliCfg.ConfigPath, config.NewLoader(), logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := configManager.GetConfig().Get()

	ctx := context.Background()
	switch {
	case cliCfg.List:
		return listComponents(out, cfg, logger)
	case cliCfg.Validate:
		if err := validatePipeline(ctx, cfg, logger); err != nil {
			return fmt.Errorf("invalid pipeline: %w", err)
		}
		logger.Info("Configuration is valid", "nodes", len(cfg.Pipeline.Nodes))
		return nil
	}

	logger.Info("Starting mediaflow",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	metricsRegistry := metric.NewMetricsRegistry()
	sup := &supervisor{
		logger:          logger,
		metrics:         metricsRegistry,
		shutdownTimeout: cliCfg.ShutdownTimeout,
	}

	if cliCfg.MetricsPort > 0 {
		server := metric.NewServer(cliCfg.MetricsPort, "/metrics", metricsRegistry, sup.health)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Metrics server failed", "port", cliCfg.MetricsPort, "error", err)
			}
		}()
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn("Metrics server stop failed", "error", err)
			}
		}()
		logger.Info("Serving metrics and health", "port", cliCfg.MetricsPort)
	}

	var updates <-chan config.Update
	if cliCfg.Watch {
		updates = configManager.OnChange()
		if err := configManager.Start(signalCtx); err != nil {
			return fmt.Errorf("start config manager: %w", err)
		}
		defer func() { _ = configManager.Stop(5 * time.Second) }()
	}

	return sup.run(signalCtx, cfg, updates)
}

// supervisor runs one engine at a time and replaces it when the
// configuration changes.
type supervisor struct {
	logger          *slog.Logger
	metrics         *metric.MetricsRegistry
	shutdownTimeout time.Duration

	mu      sync.Mutex
	current *engine.Engine
}

func (s *supervisor) health() (bool, any) {
	s.mu.Lock()
	eng := s.current
	s.mu.Unlock()
	if eng == nil {
		return false, health.NewUnhealthy("pipeline", "No pipeline running")
	}
	status := eng.Health()
	return !status.IsUnhealthy(), status
}

func (s *supervisor) setCurrent(eng *engine.Engine) {
	s.mu.Lock()
	s.current = eng
	s.mu.Unlock()
}

// run builds cfg and runs it. A reload stops the running pipeline and builds
// the new one; if that fails the supervisor waits for the next reload. The
// first build failing is returned.
func (s *supervisor) run(ctx context.Context, cfg *config.Config, updates <-chan config.Update) error {
	first := true
	for {
		eng, err := s.build(ctx, cfg)
		if err != nil {
			if first {
				return err
			}
			s.logger.Error("Reloaded pipeline failed to build, waiting for next change", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case u := <-updates:
				cfg = u.Config
				continue
			}
		}
		first = false

		next, err := s.runEngine(ctx, eng, updates)
		if next == nil {
			return err
		}
		cfg = next
	}
}

func (s *supervisor) build(ctx context.Context, cfg *config.Config) (*engine.Engine, error) {
	eng, err := engine.New(cfg, engine.Options{Logger: s.logger, MetricsRegistry: s.metrics})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Build(ctx); err != nil {
		_ = eng.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	s.setCurrent(eng)
	return eng, nil
}

// runEngine runs eng until it ends or a reload arrives, then closes it. It
// returns the reloaded configuration, or nil when the process should exit.
func (s *supervisor) runEngine(ctx context.Context, eng *engine.Engine, updates <-chan config.Update) (*config.Config, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()

	var (
		next   *config.Config
		runErr error
	)
	select {
	case runErr = <-done:
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal")
		runErr = <-done
	case u := <-updates:
		s.logger.Info("Configuration changed, rebuilding pipeline", "path", u.Path)
		cancel()
		runErr = <-done
		next = u.Config
	}

	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer closeCancel()
	s.setCurrent(nil)
	if err := eng.Close(closeCtx); err != nil {
		s.logger.Warn("Pipeline close failed", "error", err)
		runErr = stderrors.Join(runErr, err)
	}
	if next != nil {
		if runErr != nil {
			s.logger.Warn("Previous pipeline ended with error", "error", runErr)
		}
		return next, nil
	}
	if runErr == nil {
		s.logger.Info("mediaflow shutdown complete")
	}
	return nil, runErr
}

// validatePipeline builds the pipeline once without starting it.
func validatePipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	eng, err := engine.New(cfg, engine.Options{Logger: logger})
	if err != nil {
		return err
	}
	buildErr := eng.Build(ctx)
	return stderrors.Join(buildErr, eng.Close(ctx))
}

// listComponents prints every provider's components and paths, then the
// stream schemes.
func listComponents(out io.Writer, cfg *config.Config, logger *slog.Logger) error {
	eng, err := engine.New(cfg, engine.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(context.Background()) }()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tCOMPONENT\tROLES\tDESCRIPTION")
	for _, p := range eng.Registry().Providers() {
		for _, reg := range registrations(p) {
			roles := make([]string, len(reg.Roles))
			for i, r := range reg.Roles {
				roles[i] = r.String()
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name(), reg.Name, strings.Join(roles, ","), reg.Description)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if paths := slices.Collect(eng.Registry().Paths()); len(paths) > 0 {
		_, _ = fmt.Fprintln(out, "\nPATHS")
		for _, p := range paths {
			_, _ = fmt.Fprintf(out, "  %s\n", p)
		}
	}
	_, _ = fmt.Fprintf(out, "\nSTREAMS\n  %s\n", strings.Join(slices.Sorted(eng.Streams().Schemes()), ", "))
	return nil
}

// registrations returns what a provider can describe about its names.
func registrations(p component.Provider) []component.Registration {
	if rp, ok := p.(interface{ Registrations() []component.Registration }); ok {
		return rp.Registrations()
	}
	var regs []component.Registration
	for name := range p.Names() {
		regs = append(regs, component.Registration{Name: name})
	}
	return regs
}

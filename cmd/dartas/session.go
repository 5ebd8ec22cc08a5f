package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"dartas/internal/analysis"
	"dartas/internal/config"
	dserrors "dartas/internal/errors"
	"dartas/internal/slogutil"
	"dartas/internal/version"
	"dartas/internal/workspace"
)

// session is everything one command invocation holds open.
type session struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	client  *analysis.Client
	tracker *workspace.Tracker

	closers []io.Closer
}

// setup loads config and logging for the project containing file, or the
// working directory when file is empty. It returns the absolute file path.
func setup(file string) (*session, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}

	root := workspace.ProjectRoot(cwd)
	var abs string
	if file != "" {
		if abs, err = workspace.AbsFile(cwd, file); err != nil {
			return nil, "", err
		}
		root = workspace.FindRoot(abs)
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return nil, "", err
	}

	logger, logCloser, err := slogutil.Build(cfg.Logging, slogutil.Options{Level: levelOverride()})
	if err != nil {
		return nil, "", dserrors.New(dserrors.InvalidConfig, "invalid logging configuration", err)
	}

	s := &session{root: root, cfg: cfg, logger: logger}
	s.closers = append(s.closers, logCloser)
	return s, abs, nil
}

// loadConfig reads the project config and applies command-line flags.
func loadConfig(root string) (*config.Config, error) {
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, dserrors.New(dserrors.InvalidConfig, "failed to load configuration", err)
	}
	if sdkFlag != "" {
		cfg.SdkPath = sdkFlag
	}
	if metricsAddrFlag != "" {
		cfg.Telemetry.MetricsAddr = metricsAddrFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, dserrors.New(dserrors.InvalidConfig, "invalid configuration", err)
	}
	return cfg, nil
}

// openSession starts a server for the project containing file and tracks
// the file when autoAddRoots is on. The caller must close the session.
func openSession(ctx context.Context, file string) (*session, string, error) {
	s, abs, err := setup(file)
	if err != nil {
		return nil, "", err
	}
	if err := s.start(ctx); err != nil {
		s.close()
		return nil, "", err
	}
	if abs != "" && s.cfg.AutoAddRoots {
		if err := s.tracker.Track(ctx, abs); err != nil {
			s.close()
			return nil, "", err
		}
	}
	return s, abs, nil
}

func (s *session) start(ctx context.Context) error {
	if addr := s.cfg.Telemetry.MetricsAddr; addr != "" {
		m, err := startMetricsServer(addr, s.logger)
		if err != nil {
			return fmt.Errorf("failed to serve metrics on %s: %w", addr, err)
		}
		s.closers = append(s.closers, m)
	}

	exe, args, err := s.cfg.ServerCommand()
	if err != nil {
		return dserrors.New(dserrors.InvalidConfig, "cannot start the analysis server", err)
	}
	args = append(args, version.ServerArgs()...)

	startCtx := ctx
	if timeout := s.cfg.HandshakeTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, err := analysis.Start(startCtx, analysis.Options{
		Executable: exe,
		Args:       args,
		Logger:     s.logger,
		OnEvent:    s.onEvent,
	})
	if err != nil {
		return err
	}
	s.client = client
	s.logger.Info("Analysis server ready", "version", client.ServerInfo().Version, "root", s.root)

	store, err := workspace.OpenSQLiteStore(s.cfg.StatePath(s.root), s.logger)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, store)

	s.tracker, err = workspace.NewTracker(client, store, s.logger)
	return err
}

// onEvent logs events no request claimed. The connection already reports
// server.error itself.
func (s *session) onEvent(ev analysis.Event) {
	s.logger.Debug("Server event", "event", ev.Name, "bytes", len(ev.Params))
}

// close stops the server, then releases everything else in reverse order
// of acquisition.
func (s *session) close() {
	if s.client != nil {
		s.stopClient()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("Close failed", "error", err)
		}
	}
	s.closers = nil
}

func (s *session) stopClient() {
	if !s.cfg.GracefulShutdown {
		_ = s.client.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	if err := s.client.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("Graceful shutdown failed", "error", err)
	}
}

package main

import (
	"context"
	"fmt"

	"livepreview/internal/compile"
	"livepreview/internal/config"
	"livepreview/internal/document"
	"livepreview/internal/importmap"
	"livepreview/internal/logging"
	"livepreview/internal/pipeline"
	"livepreview/internal/project"
	"livepreview/internal/rebuild"
	"livepreview/internal/rewrite"
	"livepreview/internal/sandbox"
	"livepreview/internal/store"

	"go.uber.org/zap"
)

// newPipeline builds the pipeline described by c.
func newPipeline(c *config.Config) (*pipeline.Pipeline, error) {
	scanner, err := rewrite.NewScanner(c.Build.Scanner)
	if err != nil {
		return nil, err
	}
	compiler, err := compile.New(compile.Options{
		Target:      c.Build.Target,
		SourceMap:   c.Build.SourceMap,
		Concurrency: c.Build.Concurrency,
		CacheSize:   c.Build.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	builder := document.NewBuilder(document.Options{
		Title:    c.Build.Title,
		Tailwind: c.Build.Tailwind,
		NodeEnv:  c.Build.NodeEnv,
	})

	ext, err := newExternals(c.Build)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		Scanner:   scanner,
		Compiler:  compiler,
		Builder:   builder,
		Externals: &ext,
	})
}

// newExternals merges configured externals over the defaults. Invalid
// entries are logged and skipped.
func newExternals(b config.BuildConfig) (importmap.Externals, error) {
	base := importmap.DefaultExternals()
	if b.NoDefaultExternals {
		base, _ = importmap.NewExternals(nil)
	}
	if len(b.Externals) == 0 {
		return base, nil
	}
	ext, rejected := base.With(b.Externals)
	for _, r := range rejected {
		logging.BootWarn("external %q rejected: %s", r.Name, r.Reason)
	}
	return ext, nil
}

// session is everything a long-running command needs.
type session struct {
	dir     *project.Dir
	mem     *project.Memory // set in memory mode; the controller reads it instead of dir
	ctrl    *rebuild.Controller
	host    sandbox.Host
	history *store.History
}

type sessionOptions struct {
	withHost    bool
	withHistory bool
	// memory seeds an in-memory project from the workspace once and accepts
	// file actions over HTTP instead of watching the directory.
	memory bool
	sink   sandbox.Sink
}

// openSession wires the project directory, pipeline, optional Chrome host and
// history into a controller. Close releases everything.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	s := &session{}
	dir, err := project.NewDir(workspaceDir(), cfg.GetDebounce())
	if err != nil {
		return nil, err
	}
	dir.SetMaxFileSize(cfg.Project.MaxFileSize)
	s.dir = dir

	p, err := newPipeline(cfg)
	if err != nil {
		return nil, err
	}

	var history rebuild.History
	if opts.withHistory && cfg.History.Enabled {
		h, err := store.Open(inWorkspace(cfg.History.Path))
		if err != nil {
			logger.Warn("history disabled", zap.Error(err))
		} else {
			s.history = h
			history = h
			if n, err := h.Prune(ctx, cfg.History.Keep); err == nil && n > 0 {
				logger.Debug("pruned history", zap.Int64("rows", n))
			}
		}
	}

	// The sink forwards sandbox failures to the controller once it exists.
	var ctrl *rebuild.Controller
	if opts.withHost && cfg.Sandbox.Enabled {
		s.host = sandbox.NewChromeHost(cfg.Sandbox.Chrome, func(f sandbox.Failure) {
			if ctrl != nil {
				ctrl.ReportFailure(f)
			}
			if opts.sink != nil {
				opts.sink(f)
			}
		})
	}

	var source project.Source = dir
	if opts.memory {
		seed, err := dir.Snapshot(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.mem = project.NewMemory(seed)
		source = s.mem
	}

	ctrl, err = rebuild.New(rebuild.Options{Source: source, Pipeline: p, Host: s.host, History: history})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.ctrl = ctrl

	if !opts.memory {
		if err := dir.Start(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to watch workspace: %w", err)
		}
	}
	logger.Info("session ready",
		zap.String("workspace", dir.Root()),
		zap.String("scanner", cfg.Build.Scanner),
		zap.Bool("memory", s.mem != nil),
		zap.Bool("sandbox", s.host != nil),
		zap.Bool("history", s.history != nil))
	return s, nil
}

// Close stops the watcher, controller, host and history in that order.
func (s *session) Close() {
	if s.dir != nil {
		s.dir.Stop()
	}
	if s.ctrl != nil {
		s.ctrl.Close()
	}
	if s.host != nil {
		if err := s.host.Close(context.Background()); err != nil {
			logger.Warn("failed to close sandbox host", zap.Error(err))
		}
	}
	if s.history != nil {
		_ = s.history.Close()
	}
}

// buildOnce runs a single generation against the workspace as it is now.
func buildOnce(ctx context.Context) (pipeline.Result, error) {
	dir, err := project.NewDir(workspaceDir(), cfg.GetDebounce())
	if err != nil {
		return pipeline.Result{}, err
	}
	dir.SetMaxFileSize(cfg.Project.MaxFileSize)
	p, err := newPipeline(cfg)
	if err != nil {
		return pipeline.Result{}, err
	}
	snap, err := dir.Snapshot(ctx)
	if err != nil {
		return pipeline.Result{Generation: 1, Report: pipeline.ReportFromError(err)}, nil
	}
	return p.Build(ctx, 1, snap), nil
}

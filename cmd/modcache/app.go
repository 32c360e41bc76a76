package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamesainslie/modcache/pkg/daemon"
	"github.com/jamesainslie/modcache/pkg/daemon/store"
	"github.com/jamesainslie/modcache/pkg/modcache/config"
	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/logging"
)

var errDaemonRunning = errors.New("the modcache daemon is running; stop it first")

// app bundles what a command needs to work on the index.
type app struct {
	roots   *daemon.Roots
	idx     *index.Index
	history *store.Store
	svc     *daemon.Service
}

type appOptions struct {
	// exclusive refuses to run while the daemon owns the index.
	exclusive bool

	// readOnly opens only the index. Nothing is written back.
	readOnly bool
	history  bool
	watch    bool
	status   string
}

func openApp(opts appOptions) (*app, error) {
	if opts.exclusive && daemon.IsDaemonRunning(config.DefaultPIDPath()) {
		return nil, errDaemonRunning
	}

	a := &app{roots: daemon.NewRoots(cfg.SourceRoot, cfg.CacheRoot())}
	a.idx = index.New(cfg.IndexPath, a.roots, index.WithLogger(logging.Get("index")))

	if opts.readOnly {
		return a, nil
	}

	if opts.history && cfg.History.Enabled {
		h, err := openHistory()
		if err != nil {
			return nil, err
		}
		a.history = h
	}

	svc, err := daemon.NewService(daemon.Options{
		Config:       cfg,
		Roots:        a.roots,
		Index:        a.idx,
		History:      a.history,
		StatusPath:   opts.status,
		DisableWatch: !opts.watch,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func (a *app) close() {
	if a.svc != nil {
		a.svc.Close()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			printError("closing history: %v", err)
		}
	}
}

func openHistory() (*store.Store, error) {
	h, err := store.Open(cfg.History.Path)
	if err != nil {
		if daemon.IsDaemonRunning(config.DefaultPIDPath()) {
			return nil, fmt.Errorf("%w (history is locked)", errDaemonRunning)
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	return h, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

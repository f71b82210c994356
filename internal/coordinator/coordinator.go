// Package coordinator runs the long-lived sieve services in one process:
// the inbox watcher, the dashboard server and the relay poller.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sieve/internal/api"
	"sieve/internal/capsule"
	"sieve/internal/config"
	"sieve/internal/index"
	"sieve/internal/lock"
	"sieve/internal/logging"
	"sieve/internal/processor"
	"sieve/internal/relayclient"
	"sieve/internal/watcher"
	"time"
)

// LockName is the PID file owned by a running coordinator
const LockName = "coordinator"

// shutdownGrace bounds each component's drain on shutdown
const shutdownGrace = 10 * time.Second

// Coordinator owns the pipeline components and their lifecycle
type Coordinator struct {
	cfg       *config.Config
	logger    *logging.Logger
	lock      *lock.Lock
	indexer   *index.Indexer
	processor *processor.Processor
	watcher   *watcher.Watcher
	dashboard *api.Server
	poller    *relayclient.Poller
}

// New wires the pipeline. Nothing starts until Run.
func New(cfg *config.Config, t processor.Transformer, logger *logging.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	layout := capsule.LayoutFor(cfg)
	writer := capsule.NewWriter(layout, logger.Named("writer"))
	ix := index.New(layout, cfg.IndexPath(), logger.Named("index"))
	proc := processor.New(cfg, t, writer, ix, logger.Named("processor"))

	w, err := watcher.NewWatcher(proc, time.Duration(cfg.Processing.DebounceMS)*time.Millisecond, logger.Named("watcher"))
	if err != nil {
		return nil, err
	}

	dashboard := api.NewServer(cfg, proc, writer, ix, logger.Named("api"))
	proc.SetNotifier(dashboard.Hub())

	c := &Coordinator{
		cfg:       cfg,
		logger:    logger,
		lock:      lock.New(LockName, cfg.PIDDir(), logger),
		indexer:   ix,
		processor: proc,
		watcher:   w,
		dashboard: dashboard,
	}

	if cfg.RelayClientEnabled() {
		client := relayclient.NewClient(cfg.Relay.URL, cfg.Relay.AdminKey, logger.Named("relay"))
		interval := time.Duration(cfg.Relay.PollIntervalSeconds) * time.Second
		c.poller = relayclient.NewPoller(client, proc, interval)
	}
	return c, nil
}

// Processor returns the shared processor
func (c *Coordinator) Processor() *processor.Processor {
	return c.processor
}

// Run holds the coordinator lock and serves until ctx is cancelled.
// A second coordinator on the same vault fails with lock.ErrHeld.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.cfg.EnsureVault(); err != nil {
		return err
	}
	if err := c.lock.Acquire(); err != nil {
		return err
	}
	defer c.lock.Release()

	if err := c.indexer.Regenerate(); err != nil {
		c.logger.WithContext("error", err.Error()).Warn("initial index regeneration failed")
	}

	if err := c.watcher.AddFolder(c.cfg.InboxPath(), capsule.MethodDrop); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}
	if shots := c.cfg.ScreenshotPath(); shots != "" {
		if err := c.watcher.AddFolder(shots, capsule.MethodScreenshot); err != nil {
			c.logger.WithFields(map[string]interface{}{
				"folder_path": shots,
				"error":       err.Error(),
			}).Warn("screenshot folder not watched")
		}
	}
	c.watcher.Start(ctx)
	c.watcher.ScanExisting(ctx)

	if c.poller != nil {
		if err := c.poller.Start(ctx); err != nil {
			c.logger.WithContext("error", err.Error()).Error("relay poller failed to start")
		} else {
			c.logger.Info("polling relay %s every %ds", c.cfg.Relay.URL, c.cfg.Relay.PollIntervalSeconds)
		}
	}

	c.logger.Info("sieve running (vault: %s)", c.cfg.VaultRoot)
	runErr := c.dashboard.Run(ctx, shutdownGrace)

	c.logger.Info("shutting down")
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if c.poller != nil {
		if err := c.poller.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("relay poller: %w", err))
		}
	}
	if err := c.watcher.Stop(shutdownGrace); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

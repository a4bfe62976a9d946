// Package client wires the photosync agent: state store, scanner, probe,
// uploader, sync engine and the local control plane.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/photosync/internal/client/config"
	"github.com/openmined/photosync/internal/client/middleware"
	"github.com/openmined/photosync/internal/client/sync"
	"github.com/openmined/photosync/internal/probe"
	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/state"
	"github.com/openmined/photosync/internal/uploader"
	"github.com/openmined/photosync/internal/utils"
	"golang.org/x/sync/errgroup"
)

// GenerateToken as the control plane token asks the agent to mint one at startup.
const GenerateToken = "generate"

const shutdownTimeout = 10 * time.Second

type Client struct {
	config *config.Config
	store  state.Store
	engine *sync.SyncEngine
	cps    *ControlPlaneServer
}

// New builds the agent from a validated config. It takes the state lock, so a
// second agent on the same state fails here with state.ErrStateLocked.
func New(ctx context.Context, cfg *config.Config) (c *Client, err error) {
	store, err := state.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	defer func() {
		if err != nil {
			store.Close()
		}
	}()

	scn, err := scanner.New(cfg.ScannerConfig())
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	up, err := uploader.New(ctx, cfg.Uploader)
	if err != nil {
		return nil, fmt.Errorf("create uploader: %w", err)
	}

	prober := probe.NewTCPProbe(cfg.Probe.Addr, cfg.Probe.Timeout)

	engine, err := sync.NewSyncEngine(sync.Config{
		PollInterval: cfg.PollInterval,
		UploadDelay:  cfg.UploadDelay,
	}, store, scn, prober, up)
	if err != nil {
		return nil, fmt.Errorf("create sync engine: %w", err)
	}

	client := &Client{
		config: cfg,
		store:  store,
		engine: engine,
	}

	if cfg.HTTP.Enabled {
		token := cfg.HTTP.Token
		if token == GenerateToken {
			token = utils.TokenHex()
			slog.Info("control plane token generated", "token", token)
		}

		client.cps, err = NewControlPlaneServer(&ControlPlaneConfig{
			Addr:      cfg.HTTP.Addr,
			AuthToken: token,
			RateLimit: middleware.DefaultRateLimit,
			WatchDir:  cfg.WatchDir,
		}, engine)
		if err != nil {
			return nil, fmt.Errorf("create control plane: %w", err)
		}
	}

	return client, nil
}

func (c *Client) Engine() *sync.SyncEngine {
	return c.engine
}

// Start runs the engine and the control plane until ctx is cancelled, then
// releases the state lock.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("photosync client start",
		"watchDir", c.config.WatchDir,
		"state", c.store.Path(),
		"uploader", c.config.Uploader.Kind,
		"interval", c.config.PollInterval,
	)
	defer c.Close()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return c.engine.Run(egCtx)
	})

	if c.cps != nil {
		eg.Go(func() error {
			// the control plane is optional, delivery keeps running without it
			if err := c.cps.Start(egCtx); err != nil {
				slog.Error("control plane unavailable, continuing without it", "addr", c.config.HTTP.Addr, "error", err)
			}
			return nil
		})

		eg.Go(func() error {
			<-egCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return c.cps.Stop(shutdownCtx)
		})
	} else {
		slog.Info("control plane disabled")
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("photosync client failure", "error", err)
		return err
	}

	slog.Info("photosync client stop")
	return nil
}

// RunOnce runs a single pass and releases the state lock.
func (c *Client) RunOnce(ctx context.Context) *sync.PassResult {
	defer c.Close()
	return c.engine.RunPass(ctx)
}

func (c *Client) Close() error {
	return c.store.Close()
}

// streamtest connects to the price stream and prints parsed updates to console.
// Usage: go run ./cmd/streamtest --config configs/tracker.example.yaml
//
// Signing is used when feed.api_key and feed.private_key_path are set
// (COINS_FEED_API_KEY and COINS_FEED_PRIVATE_KEY_PATH in the example config).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/coin-tracker/internal/auth"
	"github.com/rickgao/coin-tracker/internal/buffer"
	"github.com/rickgao/coin-tracker/internal/config"
	"github.com/rickgao/coin-tracker/internal/connection"
	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/router"
	"github.com/rickgao/coin-tracker/internal/view"
)

func main() {
	configPath := flag.String("config", "configs/tracker.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full observation JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Create Connection Manager
	connCfg := connection.DefaultManagerConfig()
	connCfg.Client.URL = cfg.Feed.WSURL
	connCfg.Client.PingTimeout = cfg.Feed.PingTimeout
	if cfg.Feed.PrivateKeyPath != "" {
		creds, err := auth.LoadCredentials(cfg.Feed.APIKey, cfg.Feed.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		connCfg.Client.Signer = creds
		logger.Info("using API credentials", "key_id", creds.KeyID)
	}

	connMgr := connection.NewManager(connCfg, logger)

	// Create Router using Connection Manager's event channel
	rtr := router.NewRouter(router.RouterConfig{BufferSize: 1000}, connMgr.Events(), logger)

	// Start Router
	logger.Info("starting router")
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	// Start Connection Manager
	logger.Info("starting connection manager", "url", cfg.Feed.WSURL)
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	// Start console printer
	go printObservations(ctx, rtr.Output(), *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				connStats := connMgr.Stats()
				logger.Info("stats",
					"conn_state", connStats.State,
					"conn_attempts", connStats.Attempts,
					"retry_at", connStats.RetryAt,
					"router_received", routerStats.EventsReceived,
					"observations", routerStats.Observations,
					"parse_errors", routerStats.ParseErrors,
					"queued", routerStats.Output.Count,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printObservations(ctx context.Context, q *buffer.Queue[model.PriceObservation], verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			obs, ok := q.TryReceive()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			if verbose {
				data, _ := json.MarshalIndent(obs, "", "  ")
				fmt.Printf("[COIN] %s\n", data)
			} else {
				fmt.Printf("[COIN] symbol=%s name=%q price=%s (%s)\n",
					obs.Symbol, obs.Name, obs.Price, view.FormatPrice(obs.Price))
			}
		}
	}
}

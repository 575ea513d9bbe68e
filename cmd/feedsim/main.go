// feedsim serves a simulated price feed for local development.
// Usage: go run ./cmd/feedsim --addr :8090 --interval 200ms
//
// It exposes GET /api/coins, the /stream WebSocket and /icons/{code}.png.
// --busy-for and --kick-every exercise the tracker's retry-after handling.
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/coin-tracker/internal/auth"
	"github.com/rickgao/coin-tracker/internal/config"
	"github.com/rickgao/coin-tracker/internal/version"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	iconBase := flag.String("icon-base", "http://localhost:8090", "base URL advertised for coin icons (empty for none)")
	interval := flag.Duration("interval", 200*time.Millisecond, "time between price updates")
	step := flag.Float64("step", 0.002, "max relative price move per update")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	publicKey := flag.String("public-key", "", "RSA public key PEM; when set, requests must be signed")
	busyFor := flag.Duration("busy-for", 0, "reject clients with Retry-After for this long after start")
	kickEvery := flag.Duration("kick-every", 0, "send connect_after to all clients this often (0 = never)")
	kickDelay := flag.Duration("kick-delay", 5*time.Second, "how far ahead connect_after asks clients to wait")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	var pub *rsa.PublicKey
	if *publicKey != "" {
		pub, err = auth.LoadPublicKey(*publicKey)
		if err != nil {
			logger.Error("failed to load public key", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := newMarket(*iconBase, *seed, *step)
	fs := newFeedServer(m, pub, logger)
	if *busyFor > 0 {
		fs.SetBusy(time.Now().Add(*busyFor))
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           fs.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting feed simulator",
		"version", version.Version,
		"addr", *addr,
		"coins", len(seedCoins),
		"signed", pub != nil,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return runTicker(ctx, *interval, func() { fs.Broadcast(m.Tick()) })
	})

	if *kickEvery > 0 {
		g.Go(func() error {
			return runTicker(ctx, *kickEvery, func() {
				retryAt := time.Now().Add(*kickDelay)
				n := fs.KickAll(retryAt)
				fs.SetBusy(retryAt)
				logger.Info("sent connect_after", "clients", n, "retry_at", retryAt)
			})
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("feed simulator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("feed simulator stopped", "frames", fs.frames.Load())
}

// runTicker calls fn every d until ctx is done.
func runTicker(ctx context.Context, d time.Duration, fn func()) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}

// apitest fetches the full coin list once and prints it as a table.
// Usage: go run ./cmd/apitest --config configs/tracker.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rickgao/coin-tracker/internal/api"
	"github.com/rickgao/coin-tracker/internal/auth"
	"github.com/rickgao/coin-tracker/internal/config"
	"github.com/rickgao/coin-tracker/internal/model"
	"github.com/rickgao/coin-tracker/internal/view"
)

func main() {
	configPath := flag.String("config", "configs/tracker.example.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	opts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.Feed.Timeout),
		api.WithRetries(cfg.Feed.MaxRetries, time.Second),
	}
	if cfg.Feed.PrivateKeyPath != "" {
		creds, err := auth.LoadCredentials(cfg.Feed.APIKey, cfg.Feed.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		opts = append(opts, api.WithSigner(creds))
	}
	client := api.NewClient(cfg.Feed.RestURL, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Feed.Timeout)
	defer cancel()

	start := time.Now()
	coins, err := client.GetAllCoins(ctx)
	if err != nil {
		var ca *api.ConnectAfterError
		if errors.As(err, &ca) {
			logger.Error("feed asked to retry later", "retry_at", ca.RetryAt, "wait", ca.Delay(time.Now()))
		} else {
			logger.Error("failed to fetch coins", "error", err)
		}
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tNAME\tPRICE\tICON")
	for _, c := range coins {
		v := view.NewCoinView(model.NewCoinRecord(c.Observation(model.SourceREST, start)))
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Symbol, v.Name, v.Current, v.IconURL)
	}
	w.Flush()

	logger.Info("fetched coins", "count", len(coins), "duration", time.Since(start))
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marlin/internal/config"
	"marlin/internal/feed"
	"marlin/internal/store"
	"marlin/internal/util"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to YAML config")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	symbols := cfg.Backtest.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols to fetch; set backtest.symbols or -symbols")
	}

	start, end, err := cfg.Backtest.DateRange()
	if err != nil {
		log.Fatalf("invalid date range: %v", err)
	}
	// Cap at yesterday so partial days never land in the store.
	if yesterday := time.Now().AddDate(0, 0, -1); end.After(yesterday) {
		end = yesterday
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fetcher := feed.NewBarFetcher(
		cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
		store.NewParquetStore(cfg.Storage.DataDir),
		cfg.Alpaca.RateLimitPerMin, 100, logger)

	logger.Info("fetching daily bars",
		"symbols", symbols, "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))

	n, err := fetcher.FetchDaily(ctx, symbols, start, end)
	if err != nil {
		log.Fatalf("fetch failed after %d bars: %v", n, err)
	}
	logger.Info("fetch complete", "bars", n)
}

func defaultConfigPath() string {
	if p := os.Getenv("MARLIN_CONFIG"); p != "" {
		return p
	}
	return "config/marlin.yaml"
}

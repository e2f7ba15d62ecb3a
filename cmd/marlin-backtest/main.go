package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marlin/internal/config"
	"marlin/internal/domain"
	"marlin/internal/replay"
	"marlin/internal/risk"
	"marlin/internal/sim"
	"marlin/internal/store"
	"marlin/internal/strategy"
	"marlin/internal/strategy/builtins"
	"marlin/internal/util"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to YAML config")
	stratName := flag.String("strategy", "", "strategy name (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	start, end, err := cfg.Backtest.DateRange()
	if err != nil {
		log.Fatalf("invalid backtest range: %v", err)
	}
	if len(cfg.Backtest.Symbols) == 0 {
		log.Fatal("no backtest symbols configured")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load historical bars for every configured symbol.
	bars := loadBars(ctx, cfg, logger, start, end)
	if len(bars) == 0 {
		log.Fatalf("no bars found in %s for %v between %s and %s",
			cfg.Storage.DataDir, cfg.Backtest.Symbols, cfg.Backtest.Start, cfg.Backtest.End)
	}
	logger.Info("bars loaded", "count", len(bars), "symbols", cfg.Backtest.Symbols)

	// Alert journal is best effort: a broken journal downgrades delivery,
	// it never blocks the run.
	router := risk.NewRouter(logger)
	router.AddChannel(risk.NewLogChannel(logger))
	router.AddChannel(risk.NewWebhookChannel(cfg.Risk.WebhookURL))
	journal, err := store.NewSQLiteJournal(cfg.Storage.JournalPath)
	if err != nil {
		logger.Warn("journal unavailable, alerts go to log only", "err", err)
	} else {
		defer journal.Close()
		router.AddChannel(store.NewAlertJournal(journal))
	}

	evaluator := risk.NewEvaluator(router, logger)
	evaluator.RegisterDefaultRules(risk.Thresholds{
		MaxDrawdown:      cfg.Risk.MaxDrawdown,
		MaxPositionRatio: cfg.Risk.MaxPositionRatio,
		MaxVolatility:    cfg.Risk.MaxVolatility,
	})

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewSMACross(
		cfg.Backtest.ShortPeriod, cfg.Backtest.LongPeriod, cfg.Backtest.Quantity))

	name := cfg.Backtest.Strategy
	if *stratName != "" {
		name = *stratName
	}
	strat, ok := registry.Get(name)
	if !ok {
		log.Fatalf("unknown strategy %q, available: %v", name, registry.List())
	}

	replayer := replay.New(cfg.Trading.InitialCapital,
		sim.New(cfg.Trading.SlippageRate, cfg.Trading.CommissionRate, logger),
		evaluator, logger)

	result, err := replayer.Run(ctx, strat, bars, start, end)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	if journal != nil {
		for _, fill := range result.Trades {
			if err := journal.SaveFill(ctx, fill); err != nil {
				logger.Warn("journaling fill failed", "err", err)
				break
			}
		}
	}

	printReport(name, cfg, result)
}

func defaultConfigPath() string {
	if p := os.Getenv("MARLIN_CONFIG"); p != "" {
		return p
	}
	return "config/marlin.yaml"
}

func loadBars(ctx context.Context, cfg *config.Config, log *slog.Logger, start, end time.Time) []domain.Bar {
	ps := store.NewParquetStore(cfg.Storage.DataDir)
	var bars []domain.Bar
	for _, symbol := range cfg.Backtest.Symbols {
		got, err := ps.ReadBars(ctx, symbol, start, end)
		if err != nil {
			log.Warn("reading bars failed", "symbol", symbol, "err", err)
			continue
		}
		bars = append(bars, got...)
	}
	return bars
}

func printReport(name string, cfg *config.Config, result *replay.Result) {
	r := result.Report
	fmt.Printf("\nbacktest report: %s (%s .. %s)\n", name, cfg.Backtest.Start, cfg.Backtest.End)
	fmt.Printf("  initial capital:   %14.2f\n", r.InitialCapital)
	fmt.Printf("  final value:       %14.2f\n", r.FinalValue)
	fmt.Printf("  total return:      %13.2f%%\n", r.TotalReturn*100)
	fmt.Printf("  annualized return: %13.2f%%\n", r.AnnualizedReturn*100)
	fmt.Printf("  volatility:        %13.4f\n", r.Volatility)
	fmt.Printf("  sharpe ratio:      %13.4f\n", r.SharpeRatio)
	fmt.Printf("  max drawdown:      %13.2f%%\n", r.MaxDrawdown*100)
	fmt.Printf("  trades:            %10d\n", r.TotalTrades)
	fmt.Printf("  win rate:          %13.2f%%\n", r.WinRate*100)
	if len(result.Breaches) > 0 {
		fmt.Printf("  risk breaches:\n")
		for _, b := range result.Breaches {
			fmt.Printf("    [%s] %s x%d (last %s)\n",
				b.Severity, b.RuleID, b.Count, b.Timestamp.Format("2006-01-02"))
		}
	}
}

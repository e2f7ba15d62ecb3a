package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"marlin/internal/config"
	"marlin/internal/domain"
	"marlin/internal/executor"
	"marlin/internal/ledger"
	"marlin/internal/metrics"
	"marlin/internal/risk"
	"marlin/internal/sim"
	"marlin/internal/store"
	"marlin/internal/util"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	journal, err := store.NewSQLiteJournal(cfg.Storage.JournalPath)
	if err != nil {
		logger.Warn("journal unavailable, running without persistence", "err", err)
		journal = nil
	} else {
		defer journal.Close()
	}

	router := risk.NewRouter(logger)
	router.AddChannel(risk.NewLogChannel(logger))
	router.AddChannel(risk.NewWebhookChannel(cfg.Risk.WebhookURL))
	if journal != nil {
		router.AddChannel(store.NewAlertJournal(journal))
	}
	evaluator := risk.NewEvaluator(router, logger)
	evaluator.RegisterDefaultRules(risk.Thresholds{
		MaxDrawdown:      cfg.Risk.MaxDrawdown,
		MaxPositionRatio: cfg.Risk.MaxPositionRatio,
		MaxVolatility:    cfg.Risk.MaxVolatility,
	})

	exec, cleanup, err := buildExecutor(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to build executor: %v", err)
	}
	defer cleanup()
	logger.Info("trader started", "executor", exec.Name(), "paper_mode", cfg.Trading.PaperMode)

	// Journal every order state change.
	subID, events := exec.Subscribe(64)
	defer exec.Unsubscribe(subID)
	go journalEvents(ctx, journal, events, logger)

	// Periodic risk checks against the account equity curve.
	go monitorRisk(ctx, cfg, exec, evaluator, logger)

	runCommandLoop(ctx, cancel, exec)
	logger.Info("trader stopped")
}

func defaultConfigPath() string {
	if p := os.Getenv("MARLIN_CONFIG"); p != "" {
		return p
	}
	return "config/marlin.yaml"
}

// executorWithEvents is the executor surface the trader needs: order
// operations plus the event subscription both variants provide.
type executorWithEvents interface {
	executor.Executor
	Subscribe(bufSize int) (int, <-chan executor.Event)
	Unsubscribe(id int)
}

// buildExecutor returns a mock executor fed by stored bar data in paper
// mode, or a live Alpaca-backed executor otherwise.
func buildExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (executorWithEvents, func(), error) {
	if cfg.Trading.PaperMode {
		led := ledger.New(cfg.Trading.InitialCapital)
		s := sim.New(cfg.Trading.SlippageRate, cfg.Trading.CommissionRate, logger)
		mock := executor.NewMock(led, s, cfg.Trading.LimitExpiry(), logger)
		seedPrices(ctx, cfg, mock, logger)
		return mock, func() {}, nil
	}

	gw := executor.NewAlpacaGateway(
		cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
		cfg.Alpaca.RateLimitPerMin, logger)

	// Venue hiccups at startup are common; retry before giving up.
	var symbols []string
	err := util.Retry(ctx, 3, 2*time.Second, func() error {
		var err error
		symbols, err = gw.LoadInstruments(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading instruments: %w", err)
	}
	logger.Info("instruments loaded", "count", len(symbols))

	live := executor.NewLive(gw, cfg.Trading.PollInterval(), logger)
	return live, live.Close, nil
}

// seedPrices primes the mock executor with the most recent stored close per
// configured symbol so market orders have a reference price.
func seedPrices(ctx context.Context, cfg *config.Config, mock *executor.MockExecutor, logger *slog.Logger) {
	ps := store.NewParquetStore(cfg.Storage.DataDir)
	now := time.Now()
	for _, symbol := range cfg.Backtest.Symbols {
		bars, err := ps.ReadBars(ctx, symbol, now.AddDate(-1, 0, 0), now)
		if err != nil || len(bars) == 0 {
			logger.Warn("no stored bars for symbol, market orders will fail until priced",
				"symbol", symbol)
			continue
		}
		last := bars[len(bars)-1]
		mock.UpdateMarketData(symbol, last.Close, now)
		logger.Info("price seeded", "symbol", symbol, "price", last.Close, "asof", last.Timestamp)
	}
}

// journalEvents persists the order attached to every executor event. Journal
// failures are logged and skipped.
func journalEvents(ctx context.Context, journal *store.SQLiteJournal, events <-chan executor.Event, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			logger.Info("order event", "type", evt.Type,
				"order", evt.Order.ID, "status", evt.Order.Status)
			if journal == nil {
				continue
			}
			if err := journal.SaveOrder(ctx, &evt.Order); err != nil {
				logger.Warn("journaling order failed", "order", evt.Order.ID, "err", err)
			}
		}
	}
}

// monitorRisk polls the account balance, maintains the in-process equity
// curve, and evaluates the risk rules each tick.
func monitorRisk(ctx context.Context, cfg *config.Config, exec executorWithEvents, evaluator *risk.Evaluator, logger *slog.Logger) {
	interval := cfg.Trading.PollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	peak := cfg.Trading.InitialCapital
	var history []domain.Valuation

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			balance, err := exec.GetBalance(ctx)
			if err != nil {
				logger.Warn("balance fetch failed, skipping risk check", "err", err)
				continue
			}
			if balance.Equity > peak {
				peak = balance.Equity
			}
			history = append(history, domain.Valuation{
				Timestamp:  now,
				TotalValue: balance.Equity,
			})

			largest := 0.0
			for _, symbol := range cfg.Backtest.Symbols {
				pos, err := exec.GetPosition(ctx, symbol)
				if err != nil {
					continue
				}
				if v := pos.Quantity * pos.AvgPrice; v > largest {
					largest = v
				}
			}

			snapshot := risk.Snapshot{
				Timestamp:       now,
				TotalValue:      balance.Equity,
				PeakValue:       peak,
				Cash:            balance.Cash,
				LargestPosition: largest,
				Volatility:      metrics.Volatility(metrics.PeriodReturns(history)),
			}
			if peak > 0 {
				snapshot.Drawdown = (peak - balance.Equity) / peak
			}
			if balance.Equity > 0 {
				snapshot.PositionRatio = largest / balance.Equity
			}
			evaluator.EvaluateAll(snapshot)
		}
	}
}

// runCommandLoop reads order commands from stdin until EOF, "quit", or
// context cancellation.
func runCommandLoop(ctx context.Context, cancel context.CancelFunc, exec executorWithEvents) {
	fmt.Println("commands: buy|sell <symbol> <qty> [limit-price], cancel <id>, order <id>, balance, quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				cancel()
				return
			}
			if done := handleCommand(ctx, exec, line); done {
				cancel()
				return
			}
		}
	}
}

func handleCommand(ctx context.Context, exec executorWithEvents, line string) bool {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true

	case "buy", "sell":
		if len(fields) < 3 {
			fmt.Println("usage: buy|sell <symbol> <qty> [limit-price]")
			return false
		}
		qty, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			fmt.Printf("bad quantity %q\n", fields[2])
			return false
		}
		req := domain.OrderRequest{
			Symbol:   fields[1],
			Side:     domain.Side(fields[0]),
			Type:     domain.OrderTypeMarket,
			Quantity: qty,
		}
		if len(fields) >= 4 {
			price, err := strconv.ParseFloat(fields[3], 64)
			if err != nil {
				fmt.Printf("bad limit price %q\n", fields[3])
				return false
			}
			req.Type = domain.OrderTypeLimit
			req.Price = price
		}
		order, err := exec.CreateOrder(ctx, req)
		if err != nil {
			fmt.Printf("order failed: %v\n", err)
			return false
		}
		fmt.Printf("order %s %s\n", order.ID, order.Status)

	case "cancel":
		if len(fields) < 2 {
			fmt.Println("usage: cancel <id>")
			return false
		}
		order, err := exec.CancelOrder(ctx, fields[1])
		if err != nil {
			fmt.Printf("cancel failed: %v\n", err)
			return false
		}
		fmt.Printf("order %s %s\n", order.ID, order.Status)

	case "order":
		if len(fields) < 2 {
			fmt.Println("usage: order <id>")
			return false
		}
		order, err := exec.GetOrder(ctx, fields[1])
		if err != nil {
			fmt.Printf("lookup failed: %v\n", err)
			return false
		}
		fmt.Printf("%s %s %s qty=%v filled=%v status=%s\n",
			order.ID, order.Side, order.Symbol, order.Quantity, order.FilledQty, order.Status)

	case "balance":
		balance, err := exec.GetBalance(ctx)
		if err != nil {
			fmt.Printf("balance failed: %v\n", err)
			return false
		}
		fmt.Printf("cash=%.2f equity=%.2f\n", balance.Cash, balance.Equity)

	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return false
}

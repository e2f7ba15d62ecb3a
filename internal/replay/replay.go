// Package replay drives historical bars through a strategy and the fill
// simulator, producing a performance report over the resulting ledger.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"marlin/internal/domain"
	"marlin/internal/ledger"
	"marlin/internal/metrics"
	"marlin/internal/risk"
	"marlin/internal/sim"
	"marlin/internal/strategy"
)

// Result holds everything a replay run produced.
type Result struct {
	Report     metrics.Report
	Valuations []domain.Valuation
	Trades     []domain.Fill
	Breaches   []risk.Breach
}

// Replayer replays bars strictly sequentially: bar N+1 is never processed
// before bar N's effects are committed, because signal execution depends on
// the cumulative ledger state.
type Replayer struct {
	initialCapital float64
	sim            *sim.Simulator
	evaluator      *risk.Evaluator // optional per-step risk checks
	log            *slog.Logger
}

// New creates a Replayer. evaluator may be nil to skip risk checks.
func New(initialCapital float64, s *sim.Simulator, evaluator *risk.Evaluator, log *slog.Logger) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{
		initialCapital: initialCapital,
		sim:            s,
		evaluator:      evaluator,
		log:            log.With("component", "replay"),
	}
}

// Run replays the bars in [start, end] through the strategy. Signals whose
// timestamp matches the current bar are executed; rejected signals are
// dropped, never fatal. The ledger is valuated exactly once per bar.
func (r *Replayer) Run(ctx context.Context, strat strategy.Strategy, bars []domain.Bar, start, end time.Time) (*Result, error) {
	if strat == nil {
		return nil, errors.New("replay: nil strategy")
	}
	if err := strat.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing strategy %s: %w", strat.Name(), err)
	}
	return r.run(ctx, bars, start, end, func(bar domain.Bar) ([]domain.Signal, error) {
		return strat.OnBar(ctx, bar)
	})
}

// RunSignals replays the bars in [start, end], executing the given
// precomputed signals at the bars whose timestamps they match.
func (r *Replayer) RunSignals(ctx context.Context, signals []domain.Signal, bars []domain.Bar, start, end time.Time) (*Result, error) {
	bySlot := make(map[int64][]domain.Signal, len(signals))
	for _, s := range signals {
		key := s.Timestamp.UnixNano()
		bySlot[key] = append(bySlot[key], s)
	}
	return r.run(ctx, bars, start, end, func(bar domain.Bar) ([]domain.Signal, error) {
		return bySlot[bar.Timestamp.UnixNano()], nil
	})
}

func (r *Replayer) run(ctx context.Context, bars []domain.Bar, start, end time.Time, signalsFor func(domain.Bar) ([]domain.Signal, error)) (*Result, error) {
	filtered := filterBars(bars, start, end)
	r.log.Info("replay started", "bars", len(filtered), "initial_capital", r.initialCapital)

	l := ledger.New(r.initialCapital)
	lastPrices := make(map[string]float64)
	rejected := 0

	for i, bar := range filtered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		signals, err := signalsFor(bar)
		if err != nil {
			return nil, fmt.Errorf("bar %s@%s: %w", bar.Symbol, bar.Timestamp.Format(time.RFC3339), err)
		}
		for _, signal := range signals {
			if !signal.Timestamp.Equal(bar.Timestamp) {
				continue
			}
			if _, err := r.sim.Execute(l, signal); err != nil {
				// A rejected signal is a no-op, not an abort.
				rejected++
			}
		}

		lastPrices[bar.Symbol] = bar.Close
		l.Valuate(bar.Timestamp, func(symbol string) (float64, bool) {
			p, ok := lastPrices[symbol]
			return p, ok
		})

		if r.evaluator != nil {
			r.evaluator.EvaluateAll(snapshotFrom(bar.Timestamp, l, lastPrices))
		}

		if i > 0 && i%1000 == 0 {
			r.log.Debug("replay progress", "done", i, "total", len(filtered))
		}
	}

	valuations := l.Valuations()
	trades := l.Trades()
	result := &Result{
		Report:     metrics.Compute(r.initialCapital, valuations, trades),
		Valuations: valuations,
		Trades:     trades,
	}
	if r.evaluator != nil {
		result.Breaches = r.evaluator.Breaches()
	}

	r.log.Info("replay finished",
		"trades", len(trades), "rejected_signals", rejected,
		"final_value", result.Report.FinalValue)
	return result, nil
}

// snapshotFrom assembles the risk snapshot for the current step from ledger
// state and last observed prices.
func snapshotFrom(ts time.Time, l *ledger.Ledger, prices map[string]float64) risk.Snapshot {
	valuations := l.Valuations()

	snap := risk.Snapshot{
		Timestamp: ts,
		Cash:      l.Cash(),
	}
	peak := l.InitialCapital()
	for _, v := range valuations {
		if v.TotalValue > peak {
			peak = v.TotalValue
		}
	}
	if n := len(valuations); n > 0 {
		snap.TotalValue = valuations[n-1].TotalValue
		snap.PeakValue = peak
		if peak > 0 {
			snap.Drawdown = (peak - snap.TotalValue) / peak
		}
	}
	for _, pos := range l.Positions() {
		if price, ok := prices[pos.Symbol]; ok {
			if value := pos.Quantity * price; value > snap.LargestPosition {
				snap.LargestPosition = value
			}
		}
	}
	if snap.TotalValue > 0 {
		snap.PositionRatio = snap.LargestPosition / snap.TotalValue
	}
	snap.Volatility = metrics.Volatility(metrics.PeriodReturns(valuations))
	return snap
}

// filterBars returns the bars within [start, end], ordered by timestamp.
func filterBars(bars []domain.Bar, start, end time.Time) []domain.Bar {
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

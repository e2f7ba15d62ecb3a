// Package metrics computes performance statistics from a valuation history
// and a trade log. All functions are pure; nothing here mutates engine state.
package metrics

import (
	"math"

	"marlin/internal/domain"
)

// Report holds the summary statistics for one session or backtest run.
type Report struct {
	InitialCapital   float64
	FinalValue       float64
	TotalReturn      float64
	AnnualizedReturn float64
	Volatility       float64
	SharpeRatio      float64
	MaxDrawdown      float64
	TotalTrades      int
	WinRate          float64
}

// Compute derives a Report from the valuation history and trade log.
//
// AnnualizedReturn scales the total return by 365/len(valuations), which
// assumes one valuation point per day; callers supplying sub-daily intervals
// get a skewed figure. This is a documented limitation, kept as-is.
//
// WinRate is the fraction of closing (sell) trades whose realized P&L, net
// of the closing commission and measured against the volume-weighted average
// cost basis, is positive. Earlier revisions of this system counted every
// sell as a win; that was a placeholder, not a metric.
func Compute(initialCapital float64, valuations []domain.Valuation, trades []domain.Fill) Report {
	r := Report{
		InitialCapital: initialCapital,
		FinalValue:     initialCapital,
		TotalTrades:    len(trades),
	}
	if len(valuations) > 0 {
		r.FinalValue = valuations[len(valuations)-1].TotalValue
		r.TotalReturn = (r.FinalValue - initialCapital) / initialCapital
		r.AnnualizedReturn = r.TotalReturn * (365 / float64(len(valuations)))
	}

	returns := PeriodReturns(valuations)
	r.Volatility = Volatility(returns)
	r.SharpeRatio = SharpeRatio(returns)
	r.MaxDrawdown = MaxDrawdown(initialCapital, valuations)
	r.WinRate = WinRate(trades)
	return r
}

// PeriodReturns computes the relative change between consecutive valuation
// records. The first record is excluded since it has no predecessor.
func PeriodReturns(valuations []domain.Valuation) []float64 {
	if len(valuations) < 2 {
		return nil
	}
	out := make([]float64, 0, len(valuations)-1)
	for i := 1; i < len(valuations); i++ {
		prev := valuations[i-1].TotalValue
		out = append(out, (valuations[i].TotalValue-prev)/prev)
	}
	return out
}

// Volatility is the population standard deviation of period returns.
func Volatility(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(returns)))
}

// SharpeRatio is the mean period return divided by its volatility, defined
// as 0 when volatility is 0.
func SharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	vol := Volatility(returns)
	if vol == 0 {
		return 0
	}
	return mean / vol
}

// MaxDrawdown is the largest percentage decline from the running peak of the
// valuation series. The peak is seeded with the initial capital.
func MaxDrawdown(initialCapital float64, valuations []domain.Valuation) float64 {
	peak := initialCapital
	maxDD := 0.0
	for _, v := range valuations {
		if v.TotalValue > peak {
			peak = v.TotalValue
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v.TotalValue) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// WinRate replays the trade log, tracking average cost per symbol, and
// returns the fraction of closing trades with positive realized P&L.
// Returns 0 when the log contains no closing trades.
func WinRate(trades []domain.Fill) float64 {
	type basis struct {
		qty float64
		avg float64
	}
	open := make(map[string]basis)

	closing, wins := 0, 0
	for _, f := range trades {
		b := open[f.Symbol]
		switch f.Side {
		case domain.SideBuy:
			newQty := b.qty + f.Quantity
			b.avg = (b.qty*b.avg + f.Quantity*f.Price) / newQty
			b.qty = newQty
			open[f.Symbol] = b
		case domain.SideSell:
			closing++
			realized := (f.Price-b.avg)*f.Quantity - f.Commission
			if realized > 0 {
				wins++
			}
			b.qty -= f.Quantity
			if b.qty <= 0 {
				delete(open, f.Symbol)
			} else {
				open[f.Symbol] = b
			}
		}
	}
	if closing == 0 {
		return 0
	}
	return float64(wins) / float64(closing)
}

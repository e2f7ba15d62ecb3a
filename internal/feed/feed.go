// Package feed downloads historical daily bars from the Alpaca market-data
// API into the bar store, so backtests have data to replay.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marlin/internal/domain"
	"marlin/internal/store"
	"marlin/internal/util"
)

// barClient is the slice of the Alpaca market-data client the fetcher uses.
type barClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// BarFetcher pulls daily OHLCV bars for a fixed symbol set and persists them
// through a BarStore. Fetches are rate limited and retried; a symbol with no
// data is reported, not an error.
type BarFetcher struct {
	client    barClient
	store     store.BarStore
	limiter   *util.RateLimiter
	batchSize int
	log       *slog.Logger
}

// NewBarFetcher creates a BarFetcher with the given Alpaca credentials.
// ratePerMin bounds API calls per minute; batchSize is the number of symbols
// per request.
func NewBarFetcher(apiKey, apiSecret string, s store.BarStore, ratePerMin, batchSize int, log *slog.Logger) *BarFetcher {
	if log == nil {
		log = slog.Default()
	}
	if ratePerMin <= 0 {
		ratePerMin = 200
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &BarFetcher{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		store:     s,
		limiter:   util.NewRateLimiter(ratePerMin),
		batchSize: batchSize,
		log:       log.With("component", "feed"),
	}
}

// FetchDaily downloads daily bars for the symbols over [start, end] and
// writes them to the store. It returns the number of bars written.
func (f *BarFetcher) FetchDaily(ctx context.Context, symbols []string, start, end time.Time) (int, error) {
	if len(symbols) == 0 {
		return 0, nil
	}

	total := 0
	for i := 0; i < len(symbols); i += f.batchSize {
		batchEnd := min(i+f.batchSize, len(symbols))
		batch := symbols[i:batchEnd]

		if err := f.limiter.Wait(ctx); err != nil {
			return total, err
		}

		var multiBars map[string][]marketdata.Bar
		err := util.Retry(ctx, 3, time.Second, func() error {
			var err error
			multiBars, err = f.client.GetMultiBars(batch, marketdata.GetBarsRequest{
				TimeFrame: marketdata.OneDay,
				Start:     start,
				End:       end,
			})
			return err
		})
		if err != nil {
			return total, fmt.Errorf("fetching bars for %v: %w", batch, err)
		}

		var bars []domain.Bar
		fetched := make(map[string]struct{}, len(multiBars))
		for symbol, alpacaBars := range multiBars {
			fetched[strings.ToUpper(symbol)] = struct{}{}
			for _, ab := range alpacaBars {
				bars = append(bars, domain.Bar{
					Symbol:    strings.ToUpper(symbol),
					Timestamp: ab.Timestamp,
					Open:      ab.Open,
					High:      ab.High,
					Low:       ab.Low,
					Close:     ab.Close,
					Volume:    float64(ab.Volume),
				})
			}
		}
		for _, symbol := range batch {
			if _, ok := fetched[strings.ToUpper(symbol)]; !ok {
				f.log.Warn("no bars returned for symbol", "symbol", symbol)
			}
		}

		if len(bars) > 0 {
			if err := f.store.WriteBars(ctx, bars); err != nil {
				return total, fmt.Errorf("writing bars: %w", err)
			}
			total += len(bars)
		}
		f.log.Info("batch fetched", "symbols", len(batch), "bars", len(bars))
	}
	return total, nil
}

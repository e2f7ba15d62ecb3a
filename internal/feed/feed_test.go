package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"marlin/internal/domain"
	"marlin/internal/util"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubBarClient struct {
	calls [][]string
	bars  map[string][]marketdata.Bar
	fails int // errors to return before succeeding
}

func (c *stubBarClient) GetMultiBars(symbols []string, _ marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	c.calls = append(c.calls, symbols)
	if c.fails > 0 {
		c.fails--
		return nil, errors.New("transient API error")
	}
	out := make(map[string][]marketdata.Bar)
	for _, s := range symbols {
		if bars, ok := c.bars[s]; ok {
			out[s] = bars
		}
	}
	return out, nil
}

type captureStore struct {
	bars []domain.Bar
	err  error
}

func (s *captureStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	if s.err != nil {
		return s.err
	}
	s.bars = append(s.bars, bars...)
	return nil
}

func (s *captureStore) ReadBars(context.Context, string, time.Time, time.Time) ([]domain.Bar, error) {
	return nil, nil
}

func (s *captureStore) ListSymbols(context.Context) ([]string, error) { return nil, nil }

func newTestFetcher(client barClient, s *captureStore, batchSize int) *BarFetcher {
	return &BarFetcher{
		client:    client,
		store:     s,
		limiter:   util.NewRateLimiter(6000),
		batchSize: batchSize,
		log:       nil,
	}
}

func TestFetchDailyWritesBars(t *testing.T) {
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	client := &stubBarClient{bars: map[string][]marketdata.Bar{
		"AAPL": {{Timestamp: ts, Open: 185, High: 186, Low: 184, Close: 185.5, Volume: 1000}},
		"MSFT": {{Timestamp: ts, Open: 400, High: 405, Low: 399, Close: 403, Volume: 800}},
	}}
	s := &captureStore{}
	f := newTestFetcher(client, s, 100)
	f.log = testLogger()

	n, err := f.FetchDaily(context.Background(), []string{"AAPL", "MSFT"}, ts, ts)
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}
	if n != 2 {
		t.Errorf("FetchDaily returned %d bars, want 2", n)
	}
	if len(s.bars) != 2 {
		t.Fatalf("store received %d bars, want 2", len(s.bars))
	}
	if s.bars[0].Volume != 1000 && s.bars[1].Volume != 1000 {
		t.Errorf("volume not carried: %+v", s.bars)
	}
}

func TestFetchDailyBatches(t *testing.T) {
	client := &stubBarClient{bars: map[string][]marketdata.Bar{}}
	s := &captureStore{}
	f := newTestFetcher(client, s, 2)
	f.log = testLogger()

	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err := f.FetchDaily(context.Background(), []string{"A", "B", "C", "D", "E"}, ts, ts)
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("client called %d times, want 3 batches", len(client.calls))
	}
	if len(client.calls[0]) != 2 || len(client.calls[2]) != 1 {
		t.Errorf("batch sizes = %d/%d/%d, want 2/2/1",
			len(client.calls[0]), len(client.calls[1]), len(client.calls[2]))
	}
}

func TestFetchDailyRetriesTransientErrors(t *testing.T) {
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	client := &stubBarClient{
		fails: 2,
		bars: map[string][]marketdata.Bar{
			"AAPL": {{Timestamp: ts, Close: 185.5, Volume: 1000}},
		},
	}
	s := &captureStore{}
	f := newTestFetcher(client, s, 100)
	f.log = testLogger()

	n, err := f.FetchDaily(context.Background(), []string{"AAPL"}, ts, ts)
	if err != nil {
		t.Fatalf("FetchDaily should survive two transient errors: %v", err)
	}
	if n != 1 {
		t.Errorf("FetchDaily returned %d bars, want 1", n)
	}
	if len(client.calls) != 3 {
		t.Errorf("client called %d times, want 3 (two failures + success)", len(client.calls))
	}
}

func TestFetchDailyEmptySymbols(t *testing.T) {
	client := &stubBarClient{}
	f := newTestFetcher(client, &captureStore{}, 100)
	f.log = testLogger()

	n, err := f.FetchDaily(context.Background(), nil, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}
	if n != 0 || len(client.calls) != 0 {
		t.Errorf("empty symbol set should be a no-op, got n=%d calls=%d", n, len(client.calls))
	}
}

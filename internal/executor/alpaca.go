package executor

import (
	"context"
	"log/slog"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"marlin/internal/domain"
	"marlin/internal/util"
)

// Compile-time interface check.
var _ Gateway = (*AlpacaGateway)(nil)

// AlpacaGateway implements Gateway against the Alpaca trading API. All calls
// pass through a token-bucket rate limiter to respect venue API limits.
type AlpacaGateway struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaGateway creates a gateway for the given credentials and endpoint,
// rate limited to ratePerMin API calls per minute.
func NewAlpacaGateway(apiKey, apiSecret, baseURL string, ratePerMin int, log *slog.Logger) *AlpacaGateway {
	if log == nil {
		log = slog.Default()
	}
	if ratePerMin <= 0 {
		ratePerMin = 200
	}
	return &AlpacaGateway{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		limiter: util.NewRateLimiter(ratePerMin),
		log:     log.With("gateway", "alpaca"),
	}
}

// Name returns "alpaca".
func (g *AlpacaGateway) Name() string { return "alpaca" }

// LoadInstruments returns the symbols of all active tradable assets.
func (g *AlpacaGateway) LoadInstruments(ctx context.Context) ([]string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	assets, err := g.client.GetAssets(alpaca.GetAssetsRequest{Status: "active"})
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.Tradable {
			symbols = append(symbols, a.Symbol)
		}
	}
	return symbols, nil
}

// PlaceOrder submits a good-till-cancelled order to Alpaca.
func (g *AlpacaGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (VenueOrder, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return VenueOrder{}, err
	}

	qty := decimal.NewFromFloat(req.Quantity)
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        alpaca.Side(req.Side),
		Type:        alpaca.OrderType(req.Type),
		TimeInForce: alpaca.GTC,
	}
	if req.Type == domain.OrderTypeLimit {
		limit := decimal.NewFromFloat(req.Price)
		placeReq.LimitPrice = &limit
	}

	order, err := g.client.PlaceOrder(placeReq)
	if err != nil {
		return VenueOrder{}, err
	}
	g.log.Info("order placed", "venue_order", order.ID, "symbol", req.Symbol)
	return venueOrderFromAlpaca(order), nil
}

// CancelOrder cancels an order by its venue ID.
func (g *AlpacaGateway) CancelOrder(ctx context.Context, venueOrderID, _ string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return g.client.CancelOrder(venueOrderID)
}

// FetchOrder fetches current order state by its venue ID.
func (g *AlpacaGateway) FetchOrder(ctx context.Context, venueOrderID, _ string) (VenueOrder, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return VenueOrder{}, err
	}
	order, err := g.client.GetOrder(venueOrderID)
	if err != nil {
		return VenueOrder{}, err
	}
	return venueOrderFromAlpaca(order), nil
}

// FetchBalance returns cash and equity from the Alpaca account.
func (g *AlpacaGateway) FetchBalance(ctx context.Context) (domain.AccountInfo, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.AccountInfo{}, err
	}
	acct, err := g.client.GetAccount()
	if err != nil {
		return domain.AccountInfo{}, err
	}
	return domain.AccountInfo{
		Cash:   acct.Cash.InexactFloat64(),
		Equity: acct.Equity.InexactFloat64(),
	}, nil
}

// FetchPosition returns the position for a symbol. A missing position is
// reported as zero quantity, not an error.
func (g *AlpacaGateway) FetchPosition(ctx context.Context, symbol string) (domain.Position, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.Position{}, err
	}
	pos, err := g.client.GetPosition(symbol)
	if err != nil {
		if apiErr, ok := err.(*alpaca.APIError); ok && apiErr.StatusCode == 404 {
			return domain.Position{Symbol: symbol}, nil
		}
		return domain.Position{}, err
	}
	return domain.Position{
		Symbol:   pos.Symbol,
		Quantity: pos.Qty.InexactFloat64(),
		AvgPrice: pos.AvgEntryPrice.InexactFloat64(),
	}, nil
}

// venueOrderFromAlpaca translates an Alpaca order onto the venue status
// vocabulary consumed by the live executor's reconciliation.
func venueOrderFromAlpaca(o *alpaca.Order) VenueOrder {
	v := VenueOrder{
		ID:        o.ID,
		Status:    alpacaStatus(o.Status),
		FilledQty: o.FilledQty.InexactFloat64(),
	}
	if o.FilledAvgPrice != nil {
		v.Cost = o.FilledQty.Mul(*o.FilledAvgPrice).InexactFloat64()
	}
	return v
}

// alpacaStatus collapses Alpaca's order statuses onto the venue vocabulary.
func alpacaStatus(status string) string {
	switch status {
	case "new", "accepted", "pending_new", "partially_filled", "accepted_for_bidding":
		return "open"
	case "filled":
		return "closed"
	case "canceled", "expired", "done_for_day", "pending_cancel":
		return "canceled"
	case "rejected", "suspended", "stopped":
		return "rejected"
	}
	return status
}

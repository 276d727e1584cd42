package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// RESTVenueAdapter is a generic polling VenueAdapter over a venue's REST
// API. It reads markets (GET /markets), order books (GET /book) and the
// balance (GET /balance), decoding each response inline. Requests carry an
// optional Bearer API key; no request signing is performed, and order
// placement, order status and cancellation return an error.
type RESTVenueAdapter struct {
	venue  string
	http   *resty.Client
	mu     sync.Mutex
	connected bool
}

// RESTVenueConfig configures a RESTVenueAdapter.
type RESTVenueConfig struct {
	Venue   string
	BaseURL string
	APIKey  string
}

// NewRESTVenueAdapter builds a resty-backed venue adapter that retries
// transport errors and 5xx responses.
func NewRESTVenueAdapter(cfg RESTVenueConfig) *RESTVenueAdapter {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &RESTVenueAdapter{venue: cfg.Venue, http: client}
}

func (a *RESTVenueAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *RESTVenueAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *RESTVenueAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

type marketDTO struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	YesPrice  string `json:"yes_price"`
	NoPrice   string `json:"no_price"`
	Volume24h string `json:"volume_24h"`
	Liquidity string `json:"liquidity"`
}

// GetMarkets fetches the venue's market roster via GET /markets.
func (a *RESTVenueAdapter) GetMarkets(ctx context.Context) ([]domain.Market, error) {
	var dtos []marketDTO
	resp, err := a.http.R().SetContext(ctx).SetResult(&dtos).Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("get_markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get_markets: status %d", resp.StatusCode())
	}

	markets := make([]domain.Market, 0, len(dtos))
	for _, d := range dtos {
		markets = append(markets, domain.Market{
			ID:        fmt.Sprintf("%s:%s", a.venue, d.ID),
			Venue:     a.venue,
			ExternalID: d.ID,
			Title:     d.Title,
			YesPrice:  safeDecimal(d.YesPrice),
			NoPrice:   safeDecimal(d.NoPrice),
			Volume24h: safeDecimal(d.Volume24h),
			Liquidity: safeDecimal(d.Liquidity),
			UpdatedAt: time.Now().UTC(),
		})
	}
	return markets, nil
}

// GetMultiOutcomeMarkets returns no events and no error for every venue; it
// makes no request.
func (a *RESTVenueAdapter) GetMultiOutcomeMarkets(ctx context.Context) ([]domain.MultiOutcomeMarket, error) {
	return nil, nil
}

// GetOrderBook fetches the book for marketID/outcome via GET /book.
func (a *RESTVenueAdapter) GetOrderBook(ctx context.Context, marketID string, outcome domain.Outcome) (*domain.OrderBook, error) {
	var dto struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"market_id": marketID, "outcome": string(outcome)}).
		SetResult(&dto).Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get_order_book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil // venue has no book for this market; treat as absent, not an error
	}

	book := &domain.OrderBook{MarketID: marketID}
	for _, lvl := range dto.Bids {
		book.Bids = append(book.Bids, domain.OrderBookLevel{Price: safeDecimal(lvl[0]), Size: safeDecimal(lvl[1])})
	}
	for _, lvl := range dto.Asks {
		book.Asks = append(book.Asks, domain.OrderBookLevel{Price: safeDecimal(lvl[0]), Size: safeDecimal(lvl[1])})
	}
	return book, nil
}

// PlaceOrder sends no request and always returns an error naming the
// venue; orders are not submitted through this adapter.
func (a *RESTVenueAdapter) PlaceOrder(ctx context.Context, req domain.TradeRequest) (domain.Trade, error) {
	return domain.Trade{}, fmt.Errorf("place_order not implemented for venue %s", a.venue)
}

func (a *RESTVenueAdapter) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var dto struct {
		Balance string `json:"balance"`
	}
	resp, err := a.http.R().SetContext(ctx).SetResult(&dto).Get("/balance")
	if err != nil {
		return decimal.Zero, fmt.Errorf("get_balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("get_balance: status %d", resp.StatusCode())
	}
	return safeDecimal(dto.Balance), nil
}

func (a *RESTVenueAdapter) GetOrderStatus(ctx context.Context, orderID string) (domain.Order, error) {
	return domain.Order{}, fmt.Errorf("get_order_status not implemented for venue %s", a.venue)
}

func (a *RESTVenueAdapter) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return false, fmt.Errorf("cancel_order not implemented for venue %s", a.venue)
}

func (a *RESTVenueAdapter) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return nil, nil
}

// safeDecimal parses s defensively: malformed or empty input never panics,
// it yields zero, matching the boundary-parsing design note.
func safeDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

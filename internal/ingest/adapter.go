// Package ingest implements the venue and oracle ingest agents: polling or
// streaming loops that normalize external quotes and publish them onto the
// bus. Venue-specific authentication and wire-format glue live behind the
// adapter interfaces below; only the abstract contract is implemented here.
package ingest

import (
	"context"

	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/shopspring/decimal"
)

// VenueAdapter is the contract any prediction-market venue must satisfy.
// Adapter-internal translation from canonical types to venue-specific
// fields (token ids, cents vs. dollars, side naming) is the adapter's sole
// concern.
type VenueAdapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	GetMarkets(ctx context.Context) ([]domain.Market, error)
	GetMultiOutcomeMarkets(ctx context.Context) ([]domain.MultiOutcomeMarket, error)
	GetOrderBook(ctx context.Context, marketID string, outcome domain.Outcome) (*domain.OrderBook, error)
	PlaceOrder(ctx context.Context, req domain.TradeRequest) (domain.Trade, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)

	GetOrderStatus(ctx context.Context, orderID string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)
}

// OracleAdapter is the contract any reference-price source must satisfy.
type OracleAdapter interface {
	Source() string
	GetCurrent(ctx context.Context, symbol string) (domain.OracleData, error)
	// Stream, if supported, yields OracleData updates as they occur; agents
	// that get a non-nil channel here consume it instead of polling.
	Stream(ctx context.Context, symbol string) (<-chan domain.OracleData, error)
}

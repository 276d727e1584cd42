package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/oracle-arb/internal/domain"
)

const (
	wsPingInterval     = 50 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsMaxReconnectWait = 30 * time.Second
)

// wsBookMessage is the wire shape of a venue order-book push: a full
// snapshot keyed by market id and outcome, sent on subscribe and on every
// subsequent change.
type wsBookMessage struct {
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
	Bids     []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// WSOrderBookFeed maintains a live, in-memory order book cache fed by a
// venue's WebSocket stream, reconnecting with exponential backoff on drop.
// It satisfies risk.OrderBookProvider directly off the cache, so the risk
// gate's slippage guard never blocks on a network round trip.
type WSOrderBookFeed struct {
	venue string
	url   string
	log   zerolog.Logger

	mu    sync.RWMutex
	books map[string]*domain.OrderBook // key: marketID + ":" + outcome
}

// NewWSOrderBookFeed builds a feed for venue, dialing url once Run starts.
func NewWSOrderBookFeed(venue, url string, log zerolog.Logger) *WSOrderBookFeed {
	return &WSOrderBookFeed{
		venue: venue,
		url:   url,
		log:   log.With().Str("component", "ws_orderbook_feed").Str("venue", venue).Logger(),
		books: make(map[string]*domain.OrderBook),
	}
}

// Run connects and maintains the WebSocket connection until ctx is
// cancelled, auto-reconnecting with capped exponential backoff.
func (f *WSOrderBookFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn().Err(err).Dur("backoff", backoff).Msg("order book feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

func (f *WSOrderBookFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	f.log.Info().Msg("order book feed connected")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.ingest(data)
	}
}

func (f *WSOrderBookFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (f *WSOrderBookFeed) ingest(data []byte) {
	var msg wsBookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.log.Debug().Err(err).Msg("ignoring non-book message")
		return
	}
	if msg.MarketID == "" {
		return
	}

	book := &domain.OrderBook{MarketID: msg.MarketID}
	for _, lvl := range msg.Bids {
		book.Bids = append(book.Bids, domain.OrderBookLevel{Price: safeDecimal(lvl.Price), Size: safeDecimal(lvl.Size)})
	}
	for _, lvl := range msg.Asks {
		book.Asks = append(book.Asks, domain.OrderBookLevel{Price: safeDecimal(lvl.Price), Size: safeDecimal(lvl.Size)})
	}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })

	f.mu.Lock()
	f.books[bookKey(msg.MarketID, msg.Outcome)] = book
	f.mu.Unlock()
}

// GetOrderBook satisfies risk.OrderBookProvider from the in-memory cache.
// It returns an empty book rather than an error when nothing has streamed
// yet for marketID/outcome, so a cold cache fails the slippage guard closed
// (insufficient liquidity) rather than raising a spurious error.
func (f *WSOrderBookFeed) GetOrderBook(ctx context.Context, marketID string, outcome domain.Outcome) (*domain.OrderBook, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if book, ok := f.books[bookKey(marketID, string(outcome))]; ok {
		return book, nil
	}
	return &domain.OrderBook{MarketID: marketID}, nil
}

func bookKey(marketID, outcome string) string { return marketID + ":" + outcome }

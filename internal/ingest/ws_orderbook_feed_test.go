package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newBookWSServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(payload))
		time.Sleep(200 * time.Millisecond)
	}))
}

func TestWSOrderBookFeedCachesSnapshotAndSortsLevels(t *testing.T) {
	srv := newBookWSServer(t, `{"market_id":"m1","outcome":"YES","bids":[{"price":"0.40","size":"10"},{"price":"0.45","size":"5"}],"asks":[{"price":"0.55","size":"8"},{"price":"0.50","size":"3"}]}`)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed := NewWSOrderBookFeed("testvenue", wsURL, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go feed.Run(ctx)

	require.Eventually(t, func() bool {
		book, err := feed.GetOrderBook(context.Background(), "m1", "YES")
		return err == nil && len(book.Bids) == 2
	}, 250*time.Millisecond, 10*time.Millisecond)

	book, err := feed.GetOrderBook(context.Background(), "m1", "YES")
	require.NoError(t, err)
	require.True(t, book.Bids[0].Price.Equal(decimal.NewFromFloat(0.45)), "best bid should sort first")
	require.True(t, book.Asks[0].Price.Equal(decimal.NewFromFloat(0.50)), "best ask should sort first")
}

func TestWSOrderBookFeedReturnsEmptyBookForUnknownMarket(t *testing.T) {
	feed := NewWSOrderBookFeed("testvenue", "ws://unused", zerolog.Nop())
	book, err := feed.GetOrderBook(context.Background(), "ghost", "YES")
	require.NoError(t, err)
	require.Empty(t, book.Bids)
	require.Empty(t, book.Asks)
}

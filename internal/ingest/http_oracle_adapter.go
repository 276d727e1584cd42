package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/relvacode/iso8601"
)

// HTTPOracleAdapter polls a reference-price source's REST API. Economic-
// data and weather feeds in particular emit ISO-8601 timestamps with
// inconsistent precision, so timestamps are parsed leniently via
// relvacode/iso8601 rather than a fixed time.Parse layout.
type HTTPOracleAdapter struct {
	source  string
	http    *resty.Client
	wsURL   string
}

// HTTPOracleConfig configures an HTTPOracleAdapter.
type HTTPOracleConfig struct {
	Source  string
	BaseURL string
	// WSURL, if set, enables Stream() over a websocket feed in addition to
	// polling via GetCurrent.
	WSURL string
}

// NewHTTPOracleAdapter builds a polling (and optionally streaming) oracle
// adapter.
func NewHTTPOracleAdapter(cfg HTTPOracleConfig) *HTTPOracleAdapter {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond)
	return &HTTPOracleAdapter{source: cfg.Source, http: client, wsURL: cfg.WSURL}
}

func (a *HTTPOracleAdapter) Source() string { return a.source }

type oracleReadingDTO struct {
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// GetCurrent fetches the latest reading for symbol via GET /current.
// Malformed or missing fields never fail the poll: they yield a zero
// value, per the defensive-parsing design note.
func (a *HTTPOracleAdapter) GetCurrent(ctx context.Context, symbol string) (domain.OracleData, error) {
	var dto oracleReadingDTO
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&dto).Get("/current")
	if err != nil {
		return domain.OracleData{}, fmt.Errorf("get_current(%s): %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return domain.OracleData{}, fmt.Errorf("get_current(%s): status %d", symbol, resp.StatusCode())
	}

	ts := time.Now().UTC()
	if parsed, err := iso8601.ParseString(dto.Timestamp); err == nil {
		ts = parsed
	}

	return domain.OracleData{
		Source:    a.source,
		Symbol:    symbol,
		Value:     safeDecimal(dto.Value),
		Timestamp: ts,
		Metadata:  map[string]string{},
	}, nil
}

// Stream opens a websocket subscription for symbol if wsURL is configured;
// returns (nil, nil) otherwise so the caller falls back to polling.
func (a *HTTPOracleAdapter) Stream(ctx context.Context, symbol string) (<-chan domain.OracleData, error) {
	if a.wsURL == "" {
		return nil, nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial oracle stream for %s: %w", symbol, err)
	}
	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "symbol": symbol}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", symbol, err)
	}

	out := make(chan domain.OracleData, 16)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var dto oracleReadingDTO
			if err := conn.ReadJSON(&dto); err != nil {
				return
			}
			ts := time.Now().UTC()
			if parsed, err := iso8601.ParseString(dto.Timestamp); err == nil {
				ts = parsed
			}
			select {
			case out <- domain.OracleData{
				Source:    a.source,
				Symbol:    symbol,
				Value:     safeDecimal(dto.Value),
				Timestamp: ts,
				Metadata:  map[string]string{},
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

package matcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/rs/zerolog"
)

// Agent subscribes to every venue's raw market feed, accumulates newly seen
// titles, and periodically batch-parses them through Matcher, registering
// each successful mapping on a ScannerRegistrar. Titles are parsed once:
// a market_id already registered is never re-sent to Match.
type Agent struct {
	matcher       *Matcher
	registrar     ScannerRegistrar
	interval      time.Duration
	subscriptions []string
	log           zerolog.Logger

	mu       sync.Mutex
	pending  map[string]domain.Market
	seen     map[string]bool
	lastTick time.Time
	events   map[string][]string // event key -> market ids quoting it, across every venue seen so far
}

// NewAgent builds a matcher Agent listening on the given venue price
// channels (e.g. "venue.polymarket.prices", "venue.kalshi.prices").
func NewAgent(m *Matcher, registrar ScannerRegistrar, subscriptions []string, interval time.Duration, log zerolog.Logger) *Agent {
	return &Agent{
		matcher:       m,
		registrar:     registrar,
		interval:      interval,
		subscriptions: subscriptions,
		log:           log.With().Str("component", "matcher-agent").Logger(),
		pending:       make(map[string]domain.Market),
		seen:          make(map[string]bool),
		events:        make(map[string][]string),
	}
}

func (a *Agent) Name() string { return "matcher" }

func (a *Agent) Subscriptions() []string { return a.subscriptions }

func (a *Agent) Handle(ctx context.Context, channel string, record bus.Record) error {
	if !strings.HasPrefix(channel, "venue.") || !strings.HasSuffix(channel, ".prices") {
		return nil
	}
	marketID := record["market_id"]
	if marketID == "" || a.alreadySeen(marketID) {
		return nil
	}

	title := record["title"]
	a.mu.Lock()
	a.pending[marketID] = domain.Market{ID: marketID, Title: title}
	a.mu.Unlock()
	return nil
}

func (a *Agent) alreadySeen(marketID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seen[marketID]
}

// Tick runs one batch match pass over every market accumulated since the
// last tick, at most once per configured interval.
func (a *Agent) Tick(ctx context.Context) error {
	a.mu.Lock()
	due := time.Since(a.lastTick) >= a.interval
	if !due || len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := make([]domain.Market, 0, len(a.pending))
	for id, m := range a.pending {
		batch = append(batch, m)
		a.seen[id] = true
	}
	a.pending = make(map[string]domain.Market)
	a.lastTick = time.Now()
	a.mu.Unlock()

	result, err := a.matcher.Match(ctx, batch, a.registrar)
	if err != nil {
		a.log.Warn().Err(err).Msg("llm fallback failed for this batch")
	}
	a.registerMatchedEvents(result.Parsed)
	a.log.Debug().
		Int("total", result.Total).
		Int("matched", result.Matched).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("match batch complete")
	return nil
}

// registerMatchedEvents groups this batch's parses by event key and merges
// each into the cross-tick event roster, so markets quoting the same event
// on different venues (and parsed in different batches) still end up
// declared together. Every event touched this tick is re-declared with its
// full, current market list.
func (a *Agent) registerMatchedEvents(parsed []ParsedMarket) {
	if len(parsed) == 0 {
		return
	}
	a.mu.Lock()
	touched := make(map[string]bool)
	for _, p := range parsed {
		key := p.EventKey()
		if !containsString(a.events[key], p.MarketID) {
			a.events[key] = append(a.events[key], p.MarketID)
		}
		touched[key] = true
	}
	updates := make(map[string][]string, len(touched))
	for key := range touched {
		if len(a.events[key]) < 2 {
			continue
		}
		updates[key] = append([]string(nil), a.events[key]...)
	}
	a.mu.Unlock()

	for key, marketIDs := range updates {
		a.registrar.RegisterMatchedEvent(key, marketIDs)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/domain"
	"github.com/rs/zerolog"
)

const maxRosterSize = 50

// VenueWatcher is an ingest agent: no subscriptions, a polling Tick loop
// that diffs the venue's market roster against an in-memory cache and
// publishes normalized updates.
type VenueWatcher struct {
	venue    string
	adapter  VenueAdapter
	bus      *bus.Bus
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	lastYes  map[string]decimalString
	lastPoll time.Time
}

type decimalString = string

// NewVenueWatcher builds a VenueWatcher polling adapter every interval.
func NewVenueWatcher(venue string, adapter VenueAdapter, b *bus.Bus, interval time.Duration, log zerolog.Logger) *VenueWatcher {
	return &VenueWatcher{
		venue:    venue,
		adapter:  adapter,
		bus:      b,
		interval: interval,
		log:      log.With().Str("component", "venue_watcher").Str("venue", venue).Logger(),
		lastYes:  make(map[string]decimalString),
	}
}

func (w *VenueWatcher) Name() string           { return "venue-" + w.venue }
func (w *VenueWatcher) Subscriptions() []string { return nil }

// Tick polls the venue once per configured interval; faster orchestrator
// ticks in between are no-ops.
func (w *VenueWatcher) Tick(ctx context.Context) error {
	w.mu.Lock()
	due := time.Since(w.lastPoll) >= w.interval
	w.mu.Unlock()
	if !due {
		return nil
	}

	markets, err := w.adapter.GetMarkets(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("get_markets failed, will retry next poll")
		return nil
	}

	w.mu.Lock()
	w.lastPoll = time.Now()
	changed := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		prev, seen := w.lastYes[m.ID]
		cur := m.YesPrice.String()
		if !seen || prev != cur {
			changed = append(changed, m)
			w.lastYes[m.ID] = cur
		}
	}
	w.mu.Unlock()

	for _, m := range changed {
		record := bus.Record{
			"market_id":  m.ID,
			"venue":      m.Venue,
			"title":      m.Title,
			"yes_price":  m.YesPrice.String(),
			"no_price":   m.NoPrice.String(),
			"volume_24h": m.Volume24h.String(),
			"liquidity":  m.Liquidity.String(),
			"updated_at": m.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if _, err := w.bus.Publish(fmt.Sprintf("venue.%s.prices", w.venue), record); err != nil {
			return fmt.Errorf("publish venue prices: %w", err)
		}
	}

	roster := markets
	if len(roster) > maxRosterSize {
		roster = roster[:maxRosterSize]
	}
	rosterIDs := make([]string, len(roster))
	for i, m := range roster {
		rosterIDs[i] = m.ID
	}
	if _, err := w.bus.Publish(fmt.Sprintf("venue.%s.markets", w.venue), bus.Record{
		"venue": w.venue,
		"count": fmt.Sprint(len(rosterIDs)),
	}); err != nil {
		return fmt.Errorf("publish venue roster: %w", err)
	}

	multi, err := w.adapter.GetMultiOutcomeMarkets(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("get_multi_outcome_markets failed, will retry next poll")
		return nil
	}
	for _, m := range multi {
		names := make([]string, len(m.Outcomes))
		prices := make([]string, len(m.Outcomes))
		for i, o := range m.Outcomes {
			names[i] = o.Name
			prices[i] = o.Price.String()
		}
		if _, err := w.bus.Publish(fmt.Sprintf("venue.%s.multi", w.venue), bus.Record{
			"market_id":   m.ID,
			"venue":       m.Venue,
			"title":       m.Title,
			"outcomes":    joinCSV(names),
			"prices":      joinCSV(prices),
			"updated_at":  m.UpdatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("publish multi-outcome market: %w", err)
		}
	}

	return nil
}

// Handle is never called: VenueWatcher declares no subscriptions.
func (w *VenueWatcher) Handle(context.Context, string, bus.Record) error { return nil }

func joinCSV(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/rs/zerolog"
)

// OracleAgent polls (or, where supported, streams) a set of symbols from
// one OracleAdapter and publishes normalized readings.
type OracleAgent struct {
	adapter  OracleAdapter
	symbols  []string
	bus      *bus.Bus
	interval time.Duration
	log      zerolog.Logger

	mu         sync.Mutex
	lastPoll   time.Time
	streaming  map[string]bool
	streamOnce sync.Once
}

// NewOracleAgent builds an OracleAgent polling symbols every interval.
func NewOracleAgent(adapter OracleAdapter, symbols []string, b *bus.Bus, interval time.Duration, log zerolog.Logger) *OracleAgent {
	return &OracleAgent{
		adapter:   adapter,
		symbols:   symbols,
		bus:       b,
		interval:  interval,
		log:       log.With().Str("component", "oracle_agent").Str("source", adapter.Source()).Logger(),
		streaming: make(map[string]bool),
	}
}

func (a *OracleAgent) Name() string            { return "oracle-" + a.adapter.Source() }
func (a *OracleAgent) Subscriptions() []string  { return nil }
func (a *OracleAgent) Handle(context.Context, string, bus.Record) error { return nil }

// Tick starts streaming consumers for symbols the adapter supports
// streaming for (once), and polls the rest on the configured interval.
func (a *OracleAgent) Tick(ctx context.Context) error {
	a.startStreamsOnce(ctx)

	a.mu.Lock()
	due := time.Since(a.lastPoll) >= a.interval
	a.mu.Unlock()
	if !due {
		return nil
	}

	for _, symbol := range a.symbols {
		a.mu.Lock()
		streaming := a.streaming[symbol]
		a.mu.Unlock()
		if streaming {
			continue
		}

		reading, err := a.adapter.GetCurrent(ctx, symbol)
		if err != nil {
			a.log.Warn().Err(err).Str("symbol", symbol).Msg("get_current failed, will retry next poll")
			continue
		}
		if err := a.publish(reading.Source, reading.Symbol, reading.Value.String(), reading.Timestamp); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.lastPoll = time.Now()
	a.mu.Unlock()
	return nil
}

func (a *OracleAgent) startStreamsOnce(ctx context.Context) {
	a.streamOnce.Do(func() {
		for _, symbol := range a.symbols {
			ch, err := a.adapter.Stream(ctx, symbol)
			if err != nil || ch == nil {
				continue
			}
			a.mu.Lock()
			a.streaming[symbol] = true
			a.mu.Unlock()

			go func(symbol string) {
				for {
					select {
					case <-ctx.Done():
						return
					case reading, ok := <-ch:
						if !ok {
							return
						}
						if err := a.publish(reading.Source, reading.Symbol, reading.Value.String(), reading.Timestamp); err != nil {
							a.log.Error().Err(err).Str("symbol", symbol).Msg("failed to publish streamed reading")
						}
					}
				}
			}(symbol)
		}
	})
}

func (a *OracleAgent) publish(source, symbol, value string, ts time.Time) error {
	_, err := a.bus.Publish(fmt.Sprintf("oracle.%s.%s", source, symbol), bus.Record{
		"source":    source,
		"symbol":    symbol,
		"value":     value,
		"timestamp": ts.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("publish oracle reading: %w", err)
	}
	return nil
}

package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	busPkg "github.com/aristath/oracle-arb/internal/bus"
	"github.com/aristath/oracle-arb/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingAgent struct {
	name          string
	subscriptions []string
	mu            sync.Mutex
	received      []busPkg.Record
}

func (a *recordingAgent) Name() string             { return a.name }
func (a *recordingAgent) Subscriptions() []string   { return a.subscriptions }
func (a *recordingAgent) Handle(_ context.Context, _ string, r busPkg.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received = append(a.received, r)
	return nil
}
func (a *recordingAgent) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.received)
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *busPkg.Bus) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileLedger,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b, err := busPkg.New(db, zerolog.Nop())
	require.NoError(t, err)

	return New(b, zerolog.Nop()), b
}

func TestOrchestratorDeliversAndAcks(t *testing.T) {
	o, b := newTestOrchestrator(t)
	agent := &recordingAgent{name: "watcher", subscriptions: []string{"venue.polymarket.prices"}}
	o.Register(agent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	_, err := b.Publish("venue.polymarket.prices", busPkg.Record{"market_id": "polymarket:m1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return agent.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	o.Stop()
}

func TestOrchestratorHaltAllStopsAgent(t *testing.T) {
	o, b := newTestOrchestrator(t)
	agent := &recordingAgent{name: "scanner", subscriptions: []string{"opportunities.detected"}}
	o.Register(agent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	_, err := b.PublishCommand("HALT_ALL", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !o.Health().Agents["scanner"].Running
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthSnapshotReportsAgents(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	agent := &recordingAgent{name: "allocator", subscriptions: []string{"trade.results"}}
	o.Register(agent)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.Start(ctx))
	defer cancel()

	require.Eventually(t, func() bool {
		h, ok := o.Health().Agents["allocator"]
		return ok && h.Running
	}, 2*time.Second, 10*time.Millisecond)

	o.Stop()
}

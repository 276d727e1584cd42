package bus

import (
	"testing"
	"time"

	"github.com/aristath/oracle-arb/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileLedger,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b, err := New(db, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestPublishConsumeFIFO(t *testing.T) {
	b := newTestBus(t)

	id1, err := b.Publish("venue.polymarket.prices", Record{"market_id": "polymarket:m1"})
	require.NoError(t, err)
	id2, err := b.Publish("venue.polymarket.prices", Record{"market_id": "polymarket:m2"})
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	msgs, err := b.Consume("venue.polymarket.prices", 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "polymarket:m1", msgs[0].Record["market_id"])
	require.Equal(t, "polymarket:m2", msgs[1].Record["market_id"])
}

func TestConsumeGroupRedeliversUntilAck(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Publish("opportunities.detected", Record{"id": "opp-1"})
	require.NoError(t, err)

	require.NoError(t, b.EnsureGroup("opportunities.detected", "scanner-group", "0"))

	msgs, err := b.ConsumeGroup("opportunities.detected", "scanner-group", "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// No ack yet: redelivered on next read.
	again, err := b.ConsumeGroup("opportunities.detected", "scanner-group", "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)

	require.NoError(t, b.Ack("opportunities.detected", "scanner-group", msgs[0].ID))

	drained, err := b.ConsumeGroup("opportunities.detected", "scanner-group", "consumer-1", 10, 0)
	require.NoError(t, err)
	require.Empty(t, drained)
}

func TestEnsureGroupIdempotent(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Publish("system.commands", Record{"command": "HALT_ALL"})
	require.NoError(t, err)

	require.NoError(t, b.EnsureGroup("system.commands", "agent-group", "0"))
	require.NoError(t, b.EnsureGroup("system.commands", "agent-group", "0"))

	msgs, err := b.ConsumeGroup("system.commands", "agent-group", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "second EnsureGroup must not reset the cursor")
}

func TestConsumeBlocksUntilTimeout(t *testing.T) {
	b := newTestBus(t)

	start := time.Now()
	msgs, err := b.Consume("empty.channel", 0, 10, 80*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

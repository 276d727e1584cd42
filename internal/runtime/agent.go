// Package runtime implements the cooperative agent lifecycle and the
// supervising orchestrator described by the concurrency model: each agent is
// a logical task with a single run loop, agents never share mutable state
// through memory, and the bus is the only channel of cross-agent
// communication.
package runtime

import (
	"context"

	"github.com/aristath/oracle-arb/internal/bus"
)

// Agent is any component the orchestrator can supervise. Subscriptions
// declares the channels it wants delivered through Handle; an agent with no
// subscriptions (an ingest agent) still gets ticked so it can run its own
// polling loop via Tick.
type Agent interface {
	// Name uniquely identifies the agent; it also names its consumer group
	// ("{name}-group") on every subscribed channel.
	Name() string
	// Subscriptions lists the bus channels this agent consumes.
	Subscriptions() []string
	// Handle processes one delivered record. Errors are logged, never
	// propagated: the record is acked regardless (poison-message tolerance).
	Handle(ctx context.Context, channel string, record bus.Record) error
}

// Ticker is an optional interface for agents that need periodic work beyond
// reacting to subscribed channels (venue/oracle polling loops).
type Ticker interface {
	// Tick runs one polling iteration. Called once per runtime tick
	// regardless of whether any subscribed channel had messages.
	Tick(ctx context.Context) error
}

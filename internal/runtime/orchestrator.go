package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aristath/oracle-arb/internal/bus"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

func pid() int { return os.Getpid() }

const (
	maxDrainPerTick  = 32
	tickBlock        = 200 * time.Millisecond
	tickYield        = 50 * time.Millisecond
	backoffInitial   = 1 * time.Second
	backoffCap       = 60 * time.Second
	maxConsecutiveFailures = 5
	staleHeartbeatAfter    = 120 * time.Second
)

// AgentHealth is the per-agent slice of Health().
type AgentHealth struct {
	Running       bool
	Restarts      int
	LastHeartbeat time.Time
	Terminal      bool
	Stale         bool
}

// HealthSnapshot is the orchestrator-wide health report.
type HealthSnapshot struct {
	Running       bool
	Uptime        time.Duration
	Agents        map[string]AgentHealth
	ProcessRSSMiB float64
}

type runner struct {
	agent         Agent
	group         string
	stop          chan struct{}
	done          chan struct{}
	mu            sync.Mutex
	running       bool
	terminal      bool
	restarts      int
	lastHeartbeat time.Time
}

// Orchestrator supervises agent lifecycles over a shared Bus: starting each
// under a restart loop with exponential backoff, tracking heartbeats, and
// exposing a health snapshot for the dashboard.
type Orchestrator struct {
	bus       *bus.Bus
	log       zerolog.Logger
	mu        sync.RWMutex
	order     []string
	runners   map[string]*runner
	startedAt time.Time
	wg        sync.WaitGroup
}

// New builds an Orchestrator over bus.
func New(b *bus.Bus, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		bus:     b,
		log:     log.With().Str("component", "orchestrator").Logger(),
		runners: make(map[string]*runner),
	}
}

// Register adds agent to the orchestrator. Start order follows registration
// order; shutdown stops agents in reverse.
func (o *Orchestrator) Register(a Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.order = append(o.order, a.Name())
	o.runners[a.Name()] = &runner{
		agent: a,
		group: a.Name() + "-group",
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches every registered agent under its own supervised goroutine.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.startedAt = time.Now()
	order := append([]string(nil), o.order...)
	o.mu.Unlock()

	for _, name := range order {
		r := o.runners[name]
		if err := o.ensureGroups(r); err != nil {
			return fmt.Errorf("failed to start agent %s: %w", name, err)
		}
		o.wg.Add(1)
		go o.supervise(ctx, r)
		o.log.Info().Str("agent", name).Msg("agent_started")
	}
	return nil
}

func (o *Orchestrator) ensureGroups(r *runner) error {
	channels := append(append([]string{}, r.agent.Subscriptions()...), bus.CommandsChannel)
	for _, ch := range channels {
		if err := o.bus.EnsureGroup(ch, r.group, "0"); err != nil {
			return err
		}
	}
	return nil
}

// supervise runs r.agent's tick loop with exponential backoff restart on
// error, up to maxConsecutiveFailures, after which the agent is marked
// terminally failed but the orchestrator keeps running the rest.
func (o *Orchestrator) supervise(ctx context.Context, r *runner) {
	defer o.wg.Done()
	defer close(r.done)

	backoff := backoffInitial
	consecutiveFailures := 0

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		r.mu.Lock()
		r.running = true
		r.mu.Unlock()

		err := o.runLoop(ctx, r)

		r.mu.Lock()
		r.running = false
		r.mu.Unlock()

		if err == nil {
			return // clean stop (HALT_ALL or stop signal observed)
		}

		consecutiveFailures++
		o.log.Error().Err(err).Str("agent", r.agent.Name()).
			Int("consecutive_failures", consecutiveFailures).Msg("agent run loop failed, restarting")

		if consecutiveFailures >= maxConsecutiveFailures {
			r.mu.Lock()
			r.terminal = true
			r.mu.Unlock()
			o.log.Error().Str("agent", r.agent.Name()).Msg("agent terminally failed, giving up")
			return
		}

		r.mu.Lock()
		r.restarts++
		r.mu.Unlock()

		select {
		case <-time.After(backoff):
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// runLoop is one "session" of an agent's lifecycle: it runs until the agent
// observes a stop signal, a HALT_ALL command, or returns an error (which
// triggers a supervised restart).
func (o *Orchestrator) runLoop(ctx context.Context, r *runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in agent %s: %v", r.agent.Name(), p)
		}
	}()

	ticker, tickable := r.agent.(Ticker)
	channels := r.agent.Subscriptions()

	for {
		select {
		case <-r.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		halted, err := o.drainCommands(r)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}

		for _, ch := range channels {
			msgs, err := o.bus.ConsumeGroup(ch, r.group, r.agent.Name(), maxDrainPerTick, tickBlock)
			if err != nil {
				return fmt.Errorf("consume %s: %w", ch, err)
			}
			for _, m := range msgs {
				o.handleAndAck(ctx, r, ch, m)
			}
		}

		if tickable {
			if err := ticker.Tick(ctx); err != nil {
				o.log.Error().Err(err).Str("agent", r.agent.Name()).Msg("tick failed")
			}
		}

		r.mu.Lock()
		r.lastHeartbeat = time.Now()
		r.mu.Unlock()

		time.Sleep(tickYield)
	}
}

func (o *Orchestrator) handleAndAck(ctx context.Context, r *runner, channel string, m bus.Message) {
	if err := r.agent.Handle(ctx, channel, m.Record); err != nil {
		o.log.Error().Err(err).Str("agent", r.agent.Name()).Str("channel", channel).
			Int64("message_id", m.ID).Msg("handler error, acking anyway")
	}
	if err := o.bus.Ack(channel, r.group, m.ID); err != nil {
		o.log.Error().Err(err).Str("agent", r.agent.Name()).Int64("message_id", m.ID).Msg("ack failed")
	}
}

func (o *Orchestrator) drainCommands(r *runner) (halted bool, err error) {
	msgs, err := o.bus.ConsumeGroup(bus.CommandsChannel, r.group, r.agent.Name(), maxDrainPerTick, 0)
	if err != nil {
		return false, fmt.Errorf("consume system.commands: %w", err)
	}
	for _, m := range msgs {
		if m.Record["command"] == "HALT_ALL" {
			halted = true
		}
		if ackErr := o.bus.Ack(bus.CommandsChannel, r.group, m.ID); ackErr != nil {
			o.log.Error().Err(ackErr).Msg("ack of system.commands failed")
		}
	}
	return halted, nil
}

// Stop signals every agent to stop, in reverse start order, and waits for
// each to observe its signal and return.
func (o *Orchestrator) Stop() {
	o.mu.RLock()
	order := append([]string(nil), o.order...)
	o.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		r := o.runners[order[i]]
		close(r.stop)
		<-r.done
		o.log.Info().Str("agent", r.agent.Name()).Msg("agent_stopped")
	}
}

// Health returns a defensive-copy snapshot of every agent's run state.
func (o *Orchestrator) Health() HealthSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	agents := make(map[string]AgentHealth, len(o.runners))
	for name, r := range o.runners {
		r.mu.Lock()
		agents[name] = AgentHealth{
			Running:       r.running,
			Restarts:      r.restarts,
			LastHeartbeat: r.lastHeartbeat,
			Terminal:      r.terminal,
			Stale:         !r.lastHeartbeat.IsZero() && time.Since(r.lastHeartbeat) > staleHeartbeatAfter,
		}
		r.mu.Unlock()
	}

	rssMiB := 0.0
	if p, err := process.NewProcess(int32(pid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			rssMiB = float64(mem.RSS) / (1024 * 1024)
		}
	}

	return HealthSnapshot{
		Running:       true,
		Uptime:        time.Since(o.startedAt),
		Agents:        agents,
		ProcessRSSMiB: rssMiB,
	}
}

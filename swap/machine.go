package swap

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btclog"

	"github.com/hashbridge/swapd/queue"
)

// Store is the persistence surface the Machine needs (implemented by
// package swapdb, spec §4.8). Per spec §4.5 "Determinism and idempotence,"
// every transition-triggering event is appended before Apply's result is
// acted on, so a restart can recover by replaying exactly the same
// sequence.
type Store interface {
	// AppendEvent durably records ev against id, in the order it was
	// consumed by the Machine. It must succeed before Handle returns,
	// per spec §7 ("PersistenceError: fatal; the node halts").
	AppendEvent(id ID, ev Event) error

	// LoadEvents returns every event previously appended for id, in
	// append order, for replay on restart.
	LoadEvents(id ID) ([]Event, error)
}

// Config bundles a Machine's dependencies.
type Config struct {
	Store Store
	Log   btclog.Logger

	// OnTransition is invoked after every successful state change, with
	// the new State. The daemon uses it to spawn the new state's watcher
	// registrations and cancel the old state's, the task-per-state model
	// spec §9 prescribes. It runs on the machine's goroutine, so it must
	// not block.
	OnTransition func(State)

	// OnTerminal is invoked exactly once, with the final State, when the
	// machine reaches a terminal Kind. Per spec §3 "Lifecycle," this is
	// the Manager's cue to drop the Machine from active memory; the
	// persistent record itself is retained indefinitely.
	OnTerminal func(State)
}

// Machine drives a single swap through its lifecycle. One Machine runs as
// one goroutine per spec §5, selecting over a channel multiplexing peer
// events and chain-watcher events for both ledger legs — the direct
// generalization of the teacher's one-goroutine-per-ContractResolver model
// (contractcourt) to a two-leg swap.
type Machine struct {
	cfg Config

	mu    sync.Mutex
	state State

	// events decouples producers (wire protocol, chain watchers) from
	// the run loop: an enqueue never blocks on a busy machine, per spec
	// §5's suspension-point discipline.
	events *queue.ConcurrentQueue
	quit   chan struct{}
	done   chan struct{}
}

// New constructs a Machine in its initial State. The caller must call Run
// to start consuming events.
func New(cfg Config, initial State) *Machine {
	return &Machine{
		cfg:    cfg,
		state:  initial,
		events: queue.NewConcurrentQueue(4),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Recover reconstructs a Machine by replaying every event swapdb has
// recorded for id against its NewSentState-equivalent starting point,
// exactly matching the "state is derived by replaying records" contract
// of spec §3 "Persistent record." The Machine returned has NOT had Run
// called; the caller decides whether the recovered state is already
// terminal (in which case it should not be re-run at all).
func Recover(cfg Config, initial State) (*Machine, error) {
	events, err := cfg.Store.LoadEvents(initial.SwapID)
	if err != nil {
		return nil, fmt.Errorf("swap: loading events for %s: %w", initial.SwapID, err)
	}

	state := initial
	for _, ev := range events {
		next, err := Apply(state, ev)
		if err != nil {
			// Events the live machine ignored (re-deliveries, invalid
			// redeem attempts) are checkpointed before Apply runs, so
			// replay must skip them the same way.
			switch err.(type) {
			case ErrNoTransition, ErrSecretMismatch:
				continue
			}
			return nil, fmt.Errorf("swap: replaying event for %s: %w", initial.SwapID, err)
		}
		state = next
	}

	return New(cfg, state), nil
}

// State returns a snapshot of the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Handle enqueues ev for consumption by Run. The queue buffers
// internally, so a send never blocks even while the run loop is mid
// transition.
func (m *Machine) Handle(ev Event) {
	select {
	case m.events.ChanIn() <- ev:
	case <-m.quit:
	}
}

// Stop cancels the machine's run loop without waiting for a terminal
// state, used when the owning process shuts down mid-swap; state already
// persisted is replayed via Recover on the next startup.
func (m *Machine) Stop() {
	select {
	case <-m.quit:
	default:
		close(m.quit)
	}
	<-m.done
}

// Run consumes events until the machine reaches a terminal state or Stop
// is called.
func (m *Machine) Run() {
	defer close(m.done)

	m.events.Start()
	defer m.events.Stop()

	for {
		select {
		case raw := <-m.events.ChanOut():
			m.handleOne(raw.(Event))
			if m.State().Kind.IsTerminal() {
				return
			}
		case <-m.quit:
			return
		}
	}
}

func (m *Machine) handleOne(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Checkpoint before side effects, per spec §4.5.
	if err := m.cfg.Store.AppendEvent(m.state.SwapID, ev); err != nil {
		if m.cfg.Log != nil {
			m.cfg.Log.Errorf("swap: persistence failure for %s, halting machine: %v",
				m.state.SwapID, err)
		}
		panic(fmt.Sprintf("swap: persistence error for %s: %v", m.state.SwapID, err))
	}

	next, err := Apply(m.state, ev)
	if err != nil {
		if _, ok := err.(ErrNoTransition); ok {
			// Re-delivery, or an event that doesn't apply to the
			// current state; spec §4.5 treats this as a no-op, not an
			// error.
			if m.cfg.Log != nil {
				m.cfg.Log.Debugf("swap: %s: %v", m.state.SwapID, err)
			}
			return
		}
		if m.cfg.Log != nil {
			m.cfg.Log.Errorf("swap: %s: unexpected transition error: %v", m.state.SwapID, err)
		}
		return
	}

	m.state = next

	if m.cfg.OnTransition != nil {
		m.cfg.OnTransition(next)
	}
	if next.Kind.IsTerminal() && m.cfg.OnTerminal != nil {
		m.cfg.OnTerminal(next)
	}
}

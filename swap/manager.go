package swap

import (
	"fmt"
	"sync"

	"github.com/davecgh/go-spew/spew"

	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
)

// logClosure defers an expensive spew dump until the log backend has
// established the trace level is actually active.
type logClosure func() string

func (c logClosure) String() string { return c() }

// Leg names which side of a swap a chain event occurred on.
type Leg uint8

const (
	LegAlpha Leg = iota
	LegBeta
)

// Manager owns every in-memory Machine and routes wire/chain events to the
// right one, mirroring the teacher's contractcourt.ChainArbitrator, which
// owns one ContractResolver set per channel.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	machines map[ID]*Machine
}

// NewManager constructs an empty Manager. cfg.OnTerminal, if set, is
// wrapped so the Manager also evicts the terminal machine from its map.
func NewManager(cfg Config) *Manager {
	mgr := &Manager{machines: make(map[ID]*Machine)}

	userOnTerminal := cfg.OnTerminal
	cfg.OnTerminal = func(s State) {
		mgr.evict(s.SwapID)
		if userOnTerminal != nil {
			userOnTerminal(s)
		}
	}
	mgr.cfg = cfg
	return mgr
}

// NewMachine constructs a Machine with the Manager's wrapped Config, so
// its terminal callback also evicts it from the Manager's map. The caller
// still passes it to Start to run it.
func (m *Manager) NewMachine(initial State) *Machine {
	return New(m.cfg, initial)
}

// RecoverMachine replays id's persisted events into a Machine carrying
// the Manager's wrapped Config, for restart recovery.
func (m *Manager) RecoverMachine(initial State) (*Machine, error) {
	return Recover(m.cfg, initial)
}

// Start registers and runs a Machine already in a non-terminal State
// (either freshly created or recovered via Recover). It returns an error
// if a machine for this swap id is already active.
func (m *Manager) Start(mach *Machine) error {
	id := mach.State().SwapID

	m.mu.Lock()
	if _, exists := m.machines[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("swap: machine for %s already active", id)
	}
	m.machines[id] = mach
	m.mu.Unlock()

	go mach.Run()
	return nil
}

// Machine returns the active Machine for id, if any.
func (m *Manager) Machine(id ID) (*Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mach, ok := m.machines[id]
	return mach, ok
}

// Active returns every currently active (non-terminal) swap id, used by
// the action surface (package action) to enumerate swaps a caller can act
// on.
func (m *Manager) Active() []ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]ID, 0, len(m.machines))
	for id := range m.machines {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) evict(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.machines, id)
}

// DispatchAccepted delivers a peer's SWAP accept to the named machine.
func (m *Manager) DispatchAccepted(id ID, accept Accept) {
	m.dispatch(id, Event{Kind: EventAccepted, Accept: &accept})
}

// DispatchDeclined delivers a peer's SWAP decline.
func (m *Manager) DispatchDeclined(id ID, decline Decline) {
	m.dispatch(id, Event{Kind: EventDeclined, Decline: &decline})
}

// DispatchResponseTimeout delivers a wire-protocol response timeout.
func (m *Manager) DispatchResponseTimeout(id ID) {
	m.dispatch(id, Event{Kind: EventResponseTimeout})
}

// DispatchChainEvent translates a chain watcher's htlc.Event into the
// corresponding swap.Event and delivers it to the named machine. leg names
// which side of the swap the event occurred on; the htlc.EventKind names
// which occurrence it was.
func (m *Manager) DispatchChainEvent(id ID, leg Leg, ev htlc.Event) {
	kind, ok := translateEventKind(leg, ev.Kind)
	if !ok {
		if m.cfg.Log != nil {
			m.cfg.Log.Warnf("swap: %s: unroutable chain event kind %s on leg %d",
				id, ev.Kind, leg)
		}
		return
	}

	var secret *ledger.Secret
	if ev.Kind == htlc.EventRedeemed {
		s := ev.Secret
		secret = &s
	}

	if m.cfg.Log != nil {
		m.cfg.Log.Tracef("swap: %s: chain event on leg %d: %v", id, leg,
			logClosure(func() string { return spew.Sdump(ev) }))
	}

	m.dispatch(id, Event{
		Kind:     kind,
		Txid:     ev.Txid,
		Location: ev.Location,
		Vout:     ev.Vout,
		Secret:   secret,
	})
}

func (m *Manager) dispatch(id ID, ev Event) {
	mach, ok := m.Machine(id)
	if !ok {
		if m.cfg.Log != nil {
			m.cfg.Log.Warnf("swap: no active machine for %s, dropping event", id)
		}
		return
	}
	mach.Handle(ev)
}

func translateEventKind(leg Leg, k htlc.EventKind) (EventKind, bool) {
	switch leg {
	case LegAlpha:
		switch k {
		case htlc.EventFunded, htlc.EventDeployed:
			return EventAlphaFunded, true
		case htlc.EventRedeemed:
			return EventAlphaRedeemed, true
		case htlc.EventRefunded:
			return EventAlphaRefunded, true
		}
	case LegBeta:
		switch k {
		case htlc.EventFunded, htlc.EventDeployed:
			return EventBetaFunded, true
		case htlc.EventRedeemed:
			return EventBetaRedeemed, true
		case htlc.EventRefunded:
			return EventBetaRefunded, true
		}
	}
	return 0, false
}

package tracker

// State is the lifecycle state of one feature's mirror.
type State string

const (
	StateIdle         State = "idle"
	StateOptimistic   State = "optimistically_incremented"
	StateReconciled   State = "reconciled"
	StateLimitReached State = "limit_reached"
)

// Event drives state transitions.
type Event string

const (
	EventLoaded       Event = "loaded"
	EventAct          Event = "act"
	EventServerResult Event = "server_result"
	EventSyncFailed   Event = "sync_failed"

	// eventBumped follows EventAct once the bumped count is known.
	eventBumped   Event = "bumped"
	// eventRejected is a server refusal to authenticate the caller.
	eventRejected Event = "rejected"
)

// guard decides whether a transition applies to the mirror.
type guard func(m Mirror) bool

type transition struct {
	to     State
	guards []guard
}

// machine is a transition table keyed by [from][event]. Candidates are tried
// in order and the first one whose guards all pass wins.
type machine struct {
	table map[State]map[Event][]transition
}

func (m *machine) add(from State, event Event, to State, guards ...guard) *machine {
	if m.table == nil {
		m.table = make(map[State]map[Event][]transition)
	}
	if m.table[from] == nil {
		m.table[from] = make(map[Event][]transition)
	}
	m.table[from][event] = append(m.table[from][event], transition{to: to, guards: guards})
	return m
}

// next returns the target state of event in the mirror's current state.
// ok is false when no transition applies.
func (m *machine) next(mirror Mirror, event Event) (State, bool) {
	for _, t := range m.table[mirror.State][event] {
		if passes(t.guards, mirror) {
			return t.to, true
		}
	}
	return mirror.State, false
}

func (m *machine) canFire(mirror Mirror, event Event) bool {
	_, ok := m.next(mirror, event)
	return ok
}

func passes(guards []guard, m Mirror) bool {
	for _, g := range guards {
		if !g(m) {
			return false
		}
	}
	return true
}

func atLimit(m Mirror) bool { return m.Count >= m.Limit }
func hasRoom(m Mirror) bool { return m.Count < m.Limit }
func synced(m Mirror) bool  { return !m.SyncedAt.IsZero() }
func always(_ Mirror) bool  { return true }

// lifecycle is the mirror state table.
//
// Acting is impossible from limit_reached; only a server result or load that
// shows headroom leaves it. A bump that takes the count to the limit enters it
// while the request is still in flight.
var lifecycle = func() *machine {
	m := &machine{}
	for _, from := range []State{StateIdle, StateOptimistic, StateReconciled, StateLimitReached} {
		m.add(from, EventLoaded, StateLimitReached, atLimit).
			add(from, EventLoaded, StateReconciled, hasRoom).
			add(from, EventServerResult, StateLimitReached, atLimit).
			add(from, EventServerResult, StateReconciled, hasRoom).
			add(from, eventRejected, StateLimitReached, atLimit).
			add(from, eventRejected, StateReconciled, hasRoom, synced).
			add(from, eventRejected, StateIdle, always)
	}
	for _, from := range []State{StateIdle, StateOptimistic, StateReconciled} {
		m.add(from, EventAct, StateOptimistic, hasRoom)
		m.add(from, EventSyncFailed, StateLimitReached, atLimit).
			add(from, EventSyncFailed, StateOptimistic, always)
	}
	m.add(StateOptimistic, eventBumped, StateLimitReached, atLimit)
	m.add(StateLimitReached, EventSyncFailed, StateLimitReached, always)
	return m
}()

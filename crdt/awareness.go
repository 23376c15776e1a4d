package crdt

import (
	"encoding/json"
	"sync"
)

// AwarenessEntry is one client's presence state: an opaque JSON blob plus a
// clock so concurrent updates from the same client can be ordered. An entry
// whose State is empty or JSON null represents "removed"; its Clock still
// advances on removal.
type AwarenessEntry struct {
	Clock uint64          `json:"clock"`
	State json.RawMessage `json:"state,omitempty"`
}

func (e AwarenessEntry) removed() bool { return len(e.State) == 0 || string(e.State) == "null" }

// AwarenessObserver is invoked after Apply/RemoveStates with the client ids
// that were added, updated, or removed (a client id appears in exactly one
// of the three sets) and the origin supplied to the call that produced the
// change.
type AwarenessObserver func(added, updated, removed []uint64, origin any)

// Awareness is the out-of-band per-client ephemeral presence channel
// co-managed by the CRDT engine (see spec GLOSSARY). It is independent of
// the document's op log: presence never needs a durable history.
type Awareness struct {
	mu        sync.Mutex
	states    map[uint64]AwarenessEntry
	observers []AwarenessObserver
}

// NewAwareness creates an empty awareness table.
func NewAwareness() *Awareness {
	return &Awareness{states: make(map[uint64]AwarenessEntry)}
}

// OnChange registers an observer fired by Apply and RemoveStates.
func (a *Awareness) OnChange(fn AwarenessObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

// States returns a snapshot of all known (non-removed) client states.
func (a *Awareness) States() map[uint64]json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]json.RawMessage, len(a.states))
	for id, e := range a.states {
		if !e.removed() {
			out[id] = e.State
		}
	}
	return out
}

// Apply merges an encoded awareness update (map[clientID]AwarenessEntry)
// into the table, firing OnChange with the added/updated/removed subsets.
func (a *Awareness) Apply(update []byte, origin any) error {
	var incoming map[uint64]AwarenessEntry
	if len(update) > 0 {
		if err := json.Unmarshal(update, &incoming); err != nil {
			return err
		}
	}

	a.mu.Lock()
	var added, updated, removed []uint64
	for id, entry := range incoming {
		existing, had := a.states[id]
		if had && entry.Clock <= existing.Clock {
			continue
		}
		a.states[id] = entry
		switch {
		case entry.removed():
			if had && !existing.removed() {
				removed = append(removed, id)
			}
		case !had || existing.removed():
			added = append(added, id)
		default:
			updated = append(updated, id)
		}
	}
	observers := append([]AwarenessObserver(nil), a.observers...)
	a.mu.Unlock()

	if len(added)+len(updated)+len(removed) == 0 {
		return nil
	}
	for _, fn := range observers {
		fn(added, updated, removed, origin)
	}
	return nil
}

// RemoveStates forcibly removes the given client ids, as happens on
// session detach: exactly that session's controlled ids are dropped.
func (a *Awareness) RemoveStates(clientIDs []uint64, origin any) {
	if len(clientIDs) == 0 {
		return
	}
	a.mu.Lock()
	var removed []uint64
	for _, id := range clientIDs {
		existing, had := a.states[id]
		if had && !existing.removed() {
			removed = append(removed, id)
		}
		a.states[id] = AwarenessEntry{Clock: existing.Clock + 1}
	}
	observers := append([]AwarenessObserver(nil), a.observers...)
	a.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	for _, fn := range observers {
		fn(nil, nil, removed, origin)
	}
}

// EncodeAsUpdate serializes the given client ids' current entries (every
// known entry if ids is empty) for the wire.
func (a *Awareness) EncodeAsUpdate(ids []uint64) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]AwarenessEntry)
	if len(ids) == 0 {
		for id, e := range a.states {
			out[id] = e
		}
	} else {
		for _, id := range ids {
			if e, ok := a.states[id]; ok {
				out[id] = e
			}
		}
	}
	b, _ := json.Marshal(out)
	return b
}

// SetLocalState sets or updates the state for a single client id, bumping
// its clock. Returns the encoded single-entry update ready to broadcast.
func (a *Awareness) SetLocalState(clientID uint64, state json.RawMessage) []byte {
	a.mu.Lock()
	clock := a.states[clientID].Clock + 1
	a.states[clientID] = AwarenessEntry{Clock: clock, State: state}
	a.mu.Unlock()
	return a.EncodeAsUpdate([]uint64{clientID})
}

package collaboration

import (
	"encoding/json"
	"fmt"
	"sync"

	"doc-collab/internal/models"
)

// wsReplica is the document replica handle of a websocket resource. Document
// content is opaque here: inbound updates are handed to the editor, local
// updates are framed and sent, or queued until the transport is up.
type wsReplica struct {
	send func(frame []byte) bool

	mu        sync.Mutex
	editable  bool
	pending   [][]byte
	listeners map[int]func([]byte)
	nextID    int
}

func newReplica(send func([]byte) bool) *wsReplica {
	return &wsReplica{
		send:      send,
		listeners: make(map[int]func([]byte)),
	}
}

func (d *wsReplica) ApplyLocal(update []byte) error {
	d.mu.Lock()
	if !d.editable {
		d.mu.Unlock()
		return ErrReadOnly
	}
	d.mu.Unlock()

	f := encodeSync(syncUpdate, update)
	if !d.send(f) {
		d.mu.Lock()
		d.pending = append(d.pending, f)
		d.mu.Unlock()
	}
	return nil
}

func (d *wsReplica) OnUpdate(fn func([]byte)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *wsReplica) SetEditable(editable bool) {
	d.mu.Lock()
	d.editable = editable
	d.mu.Unlock()
}

func (d *wsReplica) Editable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.editable
}

// takePending returns and clears local updates queued while offline
func (d *wsReplica) takePending() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.pending
	d.pending = nil
	return p
}

// receive handles an inbound sync message and returns a reply frame, if any
func (d *wsReplica) receive(f frame) []byte {
	switch f.SyncStep {
	case syncStep1:
		// The replica keeps no state vector; answer with an empty update and
		// let the peer's step 2 bring us up to date.
		return encodeSync(syncStep2, emptyUpdate)
	case syncStep2, syncUpdate:
		d.mu.Lock()
		listeners := make([]func([]byte), 0, len(d.listeners))
		for _, fn := range d.listeners {
			listeners = append(listeners, fn)
		}
		d.mu.Unlock()

		for _, fn := range listeners {
			fn(f.Payload)
		}
	}
	return nil
}

// wsAwareness tracks the awareness states of every client in the session,
// including the local one.
type wsAwareness struct {
	clientID uint64
	send     func(frame []byte) bool
	changed  func()

	mu     sync.Mutex
	states map[uint64]awarenessEntry
}

func newAwareness(clientID uint64, send func([]byte) bool, changed func()) *wsAwareness {
	return &wsAwareness{
		clientID: clientID,
		send:     send,
		changed:  changed,
		states:   make(map[uint64]awarenessEntry),
	}
}

func (a *wsAwareness) SetLocalState(state models.AwarenessState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode awareness state: %w", err)
	}

	a.mu.Lock()
	e := a.states[a.clientID]
	e.ClientID = a.clientID
	e.Clock++
	e.State = string(raw)
	a.states[a.clientID] = e
	a.mu.Unlock()

	a.send(encodeAwareness(encodeAwarenessUpdate([]awarenessEntry{e})))
	a.changed()
	return nil
}

func (a *wsAwareness) Snapshot() models.AwarenessSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := make(models.AwarenessSnapshot, len(a.states))
	for id, e := range a.states {
		snap[id] = e.State
	}
	return snap
}

// apply merges a remote awareness update. Newer clocks win; a "null" state
// removes the client.
func (a *wsAwareness) apply(update []byte) (bool, error) {
	entries, err := decodeAwarenessUpdate(update)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	changed := false
	for _, e := range entries {
		if e.ClientID == a.clientID {
			continue
		}
		cur, known := a.states[e.ClientID]
		if known && e.Clock < cur.Clock {
			continue
		}
		if known && e.Clock == cur.Clock && e.State != "null" {
			continue
		}
		if e.State == "null" {
			if known {
				delete(a.states, e.ClientID)
				changed = true
			}
			continue
		}
		if !known || cur.State != e.State {
			changed = true
		}
		a.states[e.ClientID] = e
	}

	return changed, nil
}

// localUpdate encodes the local state, or nil if none was set
func (a *wsAwareness) localUpdate() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.states[a.clientID]
	if !ok {
		return nil
	}
	return encodeAwarenessUpdate([]awarenessEntry{e})
}

// fullUpdate encodes every known state, for answering awareness queries
func (a *wsAwareness) fullUpdate() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]awarenessEntry, 0, len(a.states))
	for _, e := range a.states {
		entries = append(entries, e)
	}
	return encodeAwarenessUpdate(entries)
}

// clearRemote forgets every client but the local one, as happens when the
// transport drops.
func (a *wsAwareness) clearRemote() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	changed := false
	for id := range a.states {
		if id != a.clientID {
			delete(a.states, id)
			changed = true
		}
	}
	return changed
}

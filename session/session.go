// Package session implements the per-connection state described in
// SPEC_FULL.md §3: a transport handle, forwarded auth, and the set of
// awareness client-ids the connection controls.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by Send/Close calls against an already-closed
// session transport.
var ErrClosed = errors.New("session: transport closed")

// ReadyState mirrors a WebSocket connection's lifecycle, since
// gorilla/websocket exposes no literal readyState enum of its own
// (SPEC_FULL.md §4.5).
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

// Sender is the transport-agnostic handle a Session drives: one binary,
// ordered, reliable channel per connected editor (§3 "Session").
type Sender interface {
	Send(frame []byte) error
	Close() error
	ReadyState() ReadyState
}

// Session is one connected editor.
type Session struct {
	// ID uniquely identifies this connection for logging/diagnostics; it
	// has no protocol meaning (the wire protocol identifies clients by
	// their awareness client-id, minted independently by each editor).
	ID     string
	sender Sender
	Auth   string

	// actions records the forwarded capability set (§3 "authActions"). A
	// session lacking "write" is still broadcast-eligible and still
	// contributes Auth to C3.put's aggregation — spec.md §5 makes write
	// capability non-gating beyond that, so nothing currently branches on
	// this set; it is carried because the data model names it.
	actions map[string]struct{}

	mu         sync.Mutex
	controlled map[uint64]struct{} // awareness client-ids this session owns
}

// New builds a Session bound to sender, with the given forwarded auth
// token and capability-action set.
func New(sender Sender, auth string, authActions []string) *Session {
	actions := make(map[string]struct{}, len(authActions))
	for _, a := range authActions {
		actions[a] = struct{}{}
	}
	return &Session{
		ID:         uuid.NewString(),
		sender:     sender,
		Auth:       auth,
		actions:    actions,
		controlled: make(map[uint64]struct{}),
	}
}

// Send writes one already-framed message to the underlying transport.
func (s *Session) Send(frame []byte) error { return s.sender.Send(frame) }

// Close closes the underlying transport.
func (s *Session) Close() error { return s.sender.Close() }

// ReadyState reports the underlying transport's lifecycle state.
func (s *Session) ReadyState() ReadyState { return s.sender.ReadyState() }

// AddControlledID records that this session now owns awareness client id
// id (set on receipt of that client's first awareness update).
func (s *Session) AddControlledID(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlled[id] = struct{}{}
}

// RemoveControlledID forgets an awareness client-id this session previously
// owned (its state was removed by someone other than this session's own
// detach, e.g. an explicit awareness removal update).
func (s *Session) RemoveControlledID(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controlled, id)
}

// ControlledIDs returns every awareness client-id this session owns, used
// to remove exactly those entries from awareness state on disconnect
// (§3's "tracked per session so that disconnection removes exactly that
// session's entries").
func (s *Session) ControlledIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.controlled))
	for id := range s.controlled {
		out = append(out, id)
	}
	return out
}

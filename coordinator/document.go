// Package coordinator implements the per-document coordinator (C6) and the
// admin invalidation surface (C7) of SPEC_FULL.md §4.6/§4.7: binding a
// document's in-memory CRDT state to the content store and durable
// storage, driving write-through persistence, and serializing every
// operation on one document through a single goroutine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Polqt/dacollab/codec"
	"github.com/Polqt/dacollab/content"
	"github.com/Polqt/dacollab/crdt"
	"github.com/Polqt/dacollab/registry"
	"github.com/Polqt/dacollab/session"
	"github.com/Polqt/dacollab/storage"
	"github.com/Polqt/dacollab/transport"
)

// Config holds the coordinator's timing knobs (SPEC_FULL.md §6).
type Config struct {
	DebounceIdle    time.Duration
	DebounceMaxWait time.Duration
	RestoreSettle   time.Duration
}

// SharedDocument is the live in-memory representation of one document
// (spec.md §3 "SharedDocument"). Every field below this comment is only
// ever touched by the goroutine started in New — run — which is what
// realizes §5's per-document single-threaded cooperative execution: public
// methods communicate with it exclusively by enqueuing a closure onto
// events.
type SharedDocument struct {
	name string

	// Engine is exported so HandleFrame's caller (the websocket read loop)
	// never needs a second accessor; it must still only be driven through
	// the actor (HandleFrame/Attach/Detach), never touched directly.
	Engine *crdt.Engine

	cfg      Config
	content  *content.Client
	store    *storage.Chunked
	registry registry.Store[*SharedDocument]
	log      zerolog.Logger

	events   chan func()
	sessions map[*session.Session]struct{}
	current  string

	idleTimer    *time.Timer
	maxWaitTimer *time.Timer

	// done is closed when the actor has reaped itself (last session
	// detached, or an admin close left it empty). post/postWait select on
	// it so a caller holding a stale reference to an already-reaped
	// document never sends on a closed events channel.
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a document bound to name and starts its actor goroutine,
// which runs bindState once before servicing events. firstAuth is the
// auth token of the session whose open triggered creation — bindState's
// step 1 fetch is made with it (spec.md §4.6, the happens-before
// requirement of §5).
func New(name string, clientID uint64, cc *content.Client, kv storage.KV, reg registry.Store[*SharedDocument], cfg Config, log zerolog.Logger, firstAuth string) *SharedDocument {
	d := &SharedDocument{
		name:     name,
		Engine:   crdt.NewEngine(clientID),
		cfg:      cfg,
		content:  cc,
		store:    storage.NewChunked(kv, name),
		registry: reg,
		log:      log.With().Str("doc", name).Logger(),
		events:   make(chan func(), 32),
		sessions: make(map[*session.Session]struct{}),
		done:     make(chan struct{}),
	}
	go d.run(firstAuth)
	return d
}

// run is the actor loop: bindState executes before the loop starts
// draining events, so every caller blocked sending on d.events (Attach,
// HandleFrame, ...) naturally waits for it to finish — this is the "await
// the cached bind promise" of spec.md §4.6 without a separate promise
// type. It returns once stop closes done, releasing the goroutine, the
// engine, and any armed debounce timers back to the garbage collector.
func (d *SharedDocument) run(firstAuth string) {
	d.bindState(firstAuth)
	for {
		select {
		case fn := <-d.events:
			fn()
		case <-d.done:
			return
		}
	}
}

// stop arms the reap: it stops any pending debounce timers and closes done,
// which ends run and causes every pending/future post to drop its closure
// instead of blocking or sending on a dead channel. Idempotent, since
// detachLocked and closeAllSessions can both observe an empty session set.
func (d *SharedDocument) stop() {
	d.stopOnce.Do(func() {
		if d.idleTimer != nil {
			d.idleTimer.Stop()
		}
		if d.maxWaitTimer != nil {
			d.maxWaitTimer.Stop()
		}
		close(d.done)
	})
}

// post enqueues fn onto the actor, or silently drops it if the actor has
// already reaped itself. Used by timer callbacks and other code running
// off the actor goroutine that doesn't need to wait for fn to run.
func (d *SharedDocument) post(fn func()) {
	select {
	case d.events <- fn:
	case <-d.done:
	}
}

// postWait enqueues fn and blocks until it has run, or returns immediately
// if the actor is already reaped (fn never runs in that case).
func (d *SharedDocument) postWait(fn func()) {
	done := make(chan struct{})
	select {
	case d.events <- func() { fn(); close(done) }:
		<-done
	case <-d.done:
	}
}

// bindState runs exactly once, per spec.md §4.6.
func (d *SharedDocument) bindState(firstAuth string) {
	current, err := d.content.Get(context.Background(), d.name, firstAuth)
	if err != nil {
		d.recordError(fmt.Errorf("bindState: fetch current: %w", err))
		current = content.EmptyHTML
	}
	d.current = current

	restored := false
	stored, found, err := d.store.Read()
	switch {
	case err != nil:
		d.recordError(fmt.Errorf("bindState: read durable state: %w", err))
	case found && len(stored) > 0:
		if err := d.Engine.ApplyUpdate(stored, "restore"); err != nil {
			d.recordError(fmt.Errorf("bindState: apply durable state: %w", err))
		} else if codec.Doc2AEM(d.Engine) == current {
			restored = true
		}
		// Mismatch: leave the tree as applied; the next update overwrites
		// the stale durable record (spec.md §4.6 step 2).
	}

	if !restored && current != content.EmptyHTML {
		settle := d.cfg.RestoreSettle
		time.AfterFunc(settle, func() {
			d.post(func() { d.resetFromUpstream(current) })
		})
	}

	d.registerObservers()
}

// resetFromUpstream is the delayed transactional reset of spec.md §4.6
// step 3: clear the root fragment and rebuild it from the upstream HTML
// that bindState fetched.
func (d *SharedDocument) resetFromUpstream(html string) {
	var applyErr error
	d.Engine.Transact(func(tx *crdt.Tx) {
		tx.ClearRoot()
		applyErr = codec.ApplyHTML(tx, html)
	})
	if applyErr != nil {
		d.recordError(fmt.Errorf("resetFromUpstream: %w", applyErr))
	}
}

// registerObservers wires the storage and debounced-upstream observers
// (spec.md §4.6 step 4). Both observer bodies run synchronously on the
// actor goroutine: they are invoked from Engine.fire, which Transact and
// ApplyUpdate call only after releasing the engine's own lock, so a
// recordError call that itself transacts cannot deadlock.
func (d *SharedDocument) registerObservers() {
	d.Engine.OnUpdate(func(update []byte, origin any) {
		d.onEngineUpdate(update, origin)
	})
	d.Engine.Awareness.OnChange(func(added, updated, removed []uint64, origin any) {
		d.onAwarenessChange(added, updated, removed, origin)
	})
}

func (d *SharedDocument) onEngineUpdate(update []byte, origin any) {
	full, err := d.Engine.EncodeStateAsUpdate(nil)
	if err != nil {
		d.recordError(fmt.Errorf("storage observer: encode state: %w", err))
	} else if err := d.store.Write(full, storage.MaxValue); err != nil {
		if errors.Is(err, storage.ErrOverflow) {
			d.log.Warn().Err(err).Msg("durable write overflowed MAX_KEYS, skipping")
		}
		d.recordError(fmt.Errorf("storage observer: write: %w", err))
	}

	d.broadcastAll(transport.EncodeSyncFrame(crdt.WriteSyncUpdate(update)))
	d.scheduleUpstreamWrite()
}

func (d *SharedDocument) onAwarenessChange(added, updated, removed []uint64, origin any) {
	if sess, ok := origin.(*session.Session); ok {
		for _, id := range added {
			sess.AddControlledID(id)
		}
		for _, id := range removed {
			sess.RemoveControlledID(id)
		}
	}

	changed := make([]uint64, 0, len(added)+len(updated)+len(removed))
	changed = append(changed, added...)
	changed = append(changed, updated...)
	changed = append(changed, removed...)
	d.broadcastAll(transport.EncodeAwarenessFrame(d.Engine.Awareness.EncodeAsUpdate(changed)))
}

// scheduleUpstreamWrite arms/refreshes the 2s-idle timer and, if none is
// already pending, the 10s max-wait timer (spec.md §4.6 step 4, "Upstream
// observer (debounced)"). Both callbacks just enqueue flushUpstream back
// onto the actor.
func (d *SharedDocument) scheduleUpstreamWrite() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.cfg.DebounceIdle, func() {
		d.post(func() { d.flushUpstream() })
	})
	if d.maxWaitTimer == nil {
		d.maxWaitTimer = time.AfterFunc(d.cfg.DebounceMaxWait, func() {
			d.post(func() { d.flushUpstream() })
		})
	}
}

func (d *SharedDocument) flushUpstream() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
	if d.maxWaitTimer != nil {
		d.maxWaitTimer.Stop()
		d.maxWaitTimer = nil
	}

	newHTML := codec.Doc2AEM(d.Engine)
	if newHTML == d.current {
		return // I5: identical projection, no write.
	}

	auth := d.aggregateSessionAuth()
	if err := d.content.Put(context.Background(), d.name, auth, newHTML); err != nil {
		if errors.Is(err, content.ErrForbidden) {
			d.closeAllSessions()
			return
		}
		d.recordError(fmt.Errorf("upstream observer: put: %w", err))
		return
	}
	d.current = newHTML
}

func (d *SharedDocument) aggregateSessionAuth() string {
	tokens := make([]string, 0, len(d.sessions))
	for sess := range d.sessions {
		tokens = append(tokens, sess.Auth)
	}
	return content.AggregateAuth(tokens)
}

// recordError records err in the document's "error" map transactionally
// (spec.md §4.6's fields: timestamp, message, stack). Never returns an
// error itself — there is nowhere further to report a failure to record a
// failure.
func (d *SharedDocument) recordError(err error) {
	d.log.Error().Err(err).Msg("document error")
	d.Engine.Transact(func(tx *crdt.Tx) {
		tx.MapSet("error", "timestamp", time.Now().UTC().Format(time.RFC3339))
		tx.MapSet("error", "message", err.Error())
		tx.MapSet("error", "stack", string(debug.Stack()))
	})
}

// broadcastAll sends frame to every attached session, applying the send
// policy of spec.md §4.5: a session that isn't connecting/open, or whose
// send fails, is closed.
func (d *SharedDocument) broadcastAll(frame []byte) {
	for sess := range d.sessions {
		state := sess.ReadyState()
		if state != session.Connecting && state != session.Open {
			d.detachLocked(sess)
			continue
		}
		if err := sess.Send(frame); err != nil {
			d.detachLocked(sess)
		}
	}
}

// detachLocked removes sess from the sessions set and releases its
// awareness state. Caller must be running on the actor goroutine. When this
// was the last session, the document is dropped from the registry and the
// actor reaps itself (§4.6 "reap on last disconnect").
func (d *SharedDocument) detachLocked(sess *session.Session) {
	if _, ok := d.sessions[sess]; !ok {
		return
	}
	delete(d.sessions, sess)
	d.Engine.Awareness.RemoveStates(sess.ControlledIDs(), nil)
	_ = sess.Close()
	if len(d.sessions) == 0 {
		if d.registry.RemoveIfEmpty(d.name, func(v *SharedDocument) bool { return len(v.sessions) == 0 }) {
			d.stop()
		}
	}
}

func (d *SharedDocument) closeAllSessions() {
	for sess := range d.sessions {
		d.Engine.Awareness.RemoveStates(sess.ControlledIDs(), nil)
		_ = sess.Close()
		delete(d.sessions, sess)
	}
	if d.registry.RemoveIfEmpty(d.name, func(v *SharedDocument) bool { return len(v.sessions) == 0 }) {
		d.stop()
	}
}

// Attach adds sess with an empty controlled-id set, waits for bindState to
// have completed, then runs the §4.5 initial exchange (sync step1, plus
// awareness if any states exist). If the document has already reaped
// itself — a caller holding a reference from just before the last session
// detached — sess is simply closed, matching what an immediate detach
// would have produced.
func (d *SharedDocument) Attach(sess *session.Session) {
	attached := false
	d.postWait(func() {
		d.sessions[sess] = struct{}{}
		attached = true
		syncFrame, awarenessFrame := transport.InitialMessages(d.Engine)
		if err := sess.Send(syncFrame); err != nil {
			d.detachLocked(sess)
			return
		}
		if len(d.Engine.Awareness.States()) > 0 {
			if err := sess.Send(awarenessFrame); err != nil {
				d.detachLocked(sess)
			}
		}
	})
	if !attached {
		_ = sess.Close()
	}
}

// Detach removes sess, releases the awareness state it controlled, and —
// if it was the last session — drops the document from the registry and
// reaps the actor (invariant I3).
func (d *SharedDocument) Detach(sess *session.Session) {
	d.postWait(func() { d.detachLocked(sess) })
}

// HandleFrame decodes and applies one incoming binary message. It does not
// block on completion: the actor's channel preserves the arrival order of
// frames from a single sender (spec.md §5), which is all callers need.
func (d *SharedDocument) HandleFrame(sess *session.Session, msg []byte) {
	d.post(func() {
		reply, err := transport.Dispatch(d.Engine, msg, sess)
		if err != nil {
			d.recordError(fmt.Errorf("dispatch: %w", err))
			return
		}
		if reply != nil {
			if err := sess.Send(reply); err != nil {
				d.detachLocked(sess)
			}
		}
	})
}

// CloseAllSessions forcibly closes every attached session (used by admin
// invalidation, spec.md §4.7).
func (d *SharedDocument) CloseAllSessions() {
	d.postWait(func() { d.closeAllSessions() })
}

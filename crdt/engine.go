package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// NodeID globally identifies one node: the client that created it and that
// client's local, monotonically increasing clock at creation time.
type NodeID struct {
	Client uint64 `json:"c"`
	Clock  uint64 `json:"k"`
}

// Zero reports whether id is the zero value, used as the "root" parent/left
// sentinel (there is no node with clock 0).
func (id NodeID) Zero() bool { return id.Client == 0 && id.Clock == 0 }

func (id NodeID) String() string { return fmt.Sprintf("%d@%d", id.Clock, id.Client) }

// Kind distinguishes element nodes (tag + attrs + children) from text runs.
type Kind uint8

const (
	KindElement Kind = iota
	KindText
)

// Node is one item in the replicated tree: either an element (with a tag
// name and attribute map, the Go-side mirror of an HTML element) or a text
// run carrying a set of mark names (the Go-side mirror of a text node with
// its enclosing <em>/<strong>/... marks flattened onto it).
type Node struct {
	ID     NodeID
	Parent NodeID // Zero() => child of the named root fragment
	Left   NodeID // RGA insertion origin: the sibling this was inserted after
	Kind   Kind
	Tag    string
	Attrs  map[string]string
	Text   string
	Marks  []string

	Deleted bool
}

func (n *Node) clone() *Node {
	c := *n
	if n.Attrs != nil {
		c.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v
		}
	}
	if n.Marks != nil {
		c.Marks = append([]string(nil), n.Marks...)
	}
	return &c
}

// OpKind enumerates the mutation log entry types.
type OpKind string

const (
	OpInsert  OpKind = "insert"
	OpDelete  OpKind = "delete"
	OpSetAttr OpKind = "setAttr"
	OpMapSet  OpKind = "mapSet"
)

// Op is one entry in a client's append-only operation log. Engines exchange
// slices of Ops as "updates"; applying the same Op twice is a no-op, which
// is what makes broadcast-with-coalescing safe.
type Op struct {
	ID     NodeID  `json:"id"`
	Kind   OpKind  `json:"kind"`
	Parent NodeID  `json:"parent,omitempty"`
	Left   NodeID  `json:"left,omitempty"`
	Node   Kind    `json:"node,omitempty"`
	Tag    string  `json:"tag,omitempty"`
	Text   string  `json:"text,omitempty"`
	Marks  []string `json:"marks,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`

	// Delete
	Target NodeID `json:"target,omitempty"`

	// SetAttr
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// MapSet
	Map string `json:"map,omitempty"`
}

// UpdateObserver is invoked with the encoded update (a JSON-marshaled
// []Op) and the origin that produced it (nil for locally-generated
// transactions, otherwise whatever the caller passed to ApplyUpdate).
type UpdateObserver func(update []byte, origin any)

// Engine is one document's CRDT state: the "prosemirror" element/text tree,
// named LWW-ish string maps (used for the "error" surface), and the
// awareness sub-protocol. Garbage collection is permanently disabled: no
// Op, once applied, is ever purged, matching a document configured with
// GC off (see SPEC_FULL.md OQ-1).
type Engine struct {
	mu sync.Mutex

	clientID uint64
	clock    uint64

	nodes    map[NodeID]*Node
	children map[NodeID][]NodeID // parent NodeID (Zero()==root) -> ordered child IDs

	maps map[string]map[string]string

	oplog map[uint64][]Op // per-client contiguous op history, 1-indexed by Clock

	observers []UpdateObserver

	Awareness *Awareness
}

// RootFragment is the well-known name of the structured document's root.
const RootFragment = "prosemirror"

// NewEngine creates an empty engine that writes its own ops under clientID.
// clientID should differ from the ids of every peer whose updates this
// engine merges (the coordinator gives every document's engine the same
// fixed server id; see coordinator.serverClientID).
func NewEngine(clientID uint64) *Engine {
	return &Engine{
		clientID:  clientID,
		nodes:     make(map[NodeID]*Node),
		children:  make(map[NodeID][]NodeID),
		maps:      make(map[string]map[string]string),
		oplog:     make(map[uint64][]Op),
		Awareness: NewAwareness(),
	}
}

// OnUpdate registers an observer invoked after every applied change,
// whether produced locally (Transact) or remotely (ApplyUpdate).
func (e *Engine) OnUpdate(fn UpdateObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

func (e *Engine) fire(ops []Op, origin any) {
	if len(ops) == 0 || len(e.observers) == 0 {
		return
	}
	payload, err := json.Marshal(ops)
	if err != nil {
		return
	}
	for _, fn := range e.observers {
		fn(payload, origin)
	}
}

// Tx is the mutation handle passed to Transact callbacks.
type Tx struct {
	e   *Engine
	ops []Op
}

func (tx *Tx) nextID() NodeID {
	tx.e.clock++
	return NodeID{Client: tx.e.clientID, Clock: tx.e.clock}
}

// InsertElement inserts a new element node as a child of parent
// (NodeID{} for the root fragment), positioned immediately after `left`
// (NodeID{} to insert at the front). Returns the new node's ID.
func (tx *Tx) InsertElement(parent, left NodeID, tag string, attrs map[string]string) NodeID {
	id := tx.nextID()
	op := Op{ID: id, Kind: OpInsert, Parent: parent, Left: left, Node: KindElement, Tag: tag, Attrs: attrs}
	tx.apply(op)
	return id
}

// InsertText inserts a text run carrying the given marks.
func (tx *Tx) InsertText(parent, left NodeID, text string, marks []string) NodeID {
	id := tx.nextID()
	op := Op{ID: id, Kind: OpInsert, Parent: parent, Left: left, Node: KindText, Text: text, Marks: marks}
	tx.apply(op)
	return id
}

// Delete tombstones the subtree rooted at target.
func (tx *Tx) Delete(target NodeID) {
	tx.apply(Op{ID: tx.nextID(), Kind: OpDelete, Target: target})
}

// SetAttr sets one attribute on an existing element.
func (tx *Tx) SetAttr(target NodeID, key, value string) {
	tx.apply(Op{ID: tx.nextID(), Kind: OpSetAttr, Target: target, Key: key, Value: value})
}

// MapSet sets a key in the named shared map (e.g. the "error" map).
func (tx *Tx) MapSet(mapName, key, value string) {
	tx.apply(Op{ID: tx.nextID(), Kind: OpMapSet, Map: mapName, Key: key, Value: value})
}

// ClearRoot deletes every current (non-deleted) child of the root fragment,
// without touching the rest of the tree. Used by bindState's delayed reset.
func (tx *Tx) ClearRoot() {
	for _, id := range append([]NodeID(nil), tx.e.children[NodeID{}]...) {
		if n := tx.e.nodes[id]; n != nil && !n.Deleted {
			tx.Delete(id)
		}
	}
}

func (tx *Tx) apply(op Op) {
	tx.e.applyLocal(op)
	tx.ops = append(tx.ops, op)
}

// Transact runs fn with exclusive access to the engine, then broadcasts the
// resulting ops (if any) to update observers with origin nil (meaning
// "locally generated" — ApplyUpdate forwards whatever origin its caller
// passes).
func (e *Engine) Transact(fn func(tx *Tx)) {
	e.mu.Lock()
	tx := &Tx{e: e}
	fn(tx)
	ops := tx.ops
	if len(ops) > 0 {
		e.oplog[e.clientID] = append(e.oplog[e.clientID], ops...)
	}
	e.mu.Unlock()
	e.fire(ops, nil)
}

// applyLocal mutates tree/map state for op. Caller holds e.mu.
func (e *Engine) applyLocal(op Op) {
	switch op.Kind {
	case OpInsert:
		n := &Node{ID: op.ID, Parent: op.Parent, Left: op.Left, Kind: op.Node, Tag: op.Tag, Attrs: op.Attrs, Text: op.Text, Marks: op.Marks}
		e.nodes[op.ID] = n
		e.insertChild(op.Parent, op.Left, op.ID)
	case OpDelete:
		e.deleteSubtree(op.Target)
	case OpSetAttr:
		if n, ok := e.nodes[op.Target]; ok {
			if n.Attrs == nil {
				n.Attrs = map[string]string{}
			}
			n.Attrs[op.Key] = op.Value
		}
	case OpMapSet:
		m, ok := e.maps[op.Map]
		if !ok {
			m = map[string]string{}
			e.maps[op.Map] = m
		}
		m[op.Key] = op.Value
	}
}

func (e *Engine) insertChild(parent, left, id NodeID) {
	siblings := e.children[parent]
	if left.Zero() {
		e.children[parent] = append([]NodeID{id}, siblings...)
		return
	}
	idx := -1
	for i, sid := range siblings {
		if sid == left {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Left origin not known locally yet (can happen with concurrent
		// inserts racing a delete of the origin); append deterministically
		// at the end rather than drop the node.
		e.children[parent] = append(siblings, id)
		return
	}
	out := make([]NodeID, 0, len(siblings)+1)
	out = append(out, siblings[:idx+1]...)
	out = append(out, id)
	out = append(out, siblings[idx+1:]...)
	e.children[parent] = out
}

func (e *Engine) deleteSubtree(id NodeID) {
	n, ok := e.nodes[id]
	if !ok || n.Deleted {
		return
	}
	n.Deleted = true
	for _, child := range e.children[id] {
		e.deleteSubtree(child)
	}
}

// Children returns the live (non-deleted) children of parent in document
// order. parent == NodeID{} means the root fragment.
func (e *Engine) Children(parent NodeID) []*Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.childrenLocked(parent)
}

func (e *Engine) childrenLocked(parent NodeID) []*Node {
	ids := e.children[parent]
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n := e.nodes[id]; n != nil && !n.Deleted {
			out = append(out, n)
		}
	}
	return out
}

// Node looks up a node by ID (including tombstoned ones).
func (e *Engine) Node(id NodeID) (*Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[id]
	return n, ok
}

// MapGet reads a key from a named shared map.
func (e *Engine) MapGet(mapName, key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.maps[mapName]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

// StateVector summarizes, per client, the clock of the last op this engine
// has applied from that client (for a gap-free history, the count of ops
// applied for that client).
func (e *Engine) StateVector() map[uint64]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	sv := make(map[uint64]uint64, len(e.oplog))
	for client, ops := range e.oplog {
		if len(ops) > 0 {
			sv[client] = ops[len(ops)-1].ID.Clock
		}
	}
	return sv
}

// EncodeStateVector serializes StateVector for the wire.
func (e *Engine) EncodeStateVector() []byte {
	b, _ := json.Marshal(e.StateVector())
	return b
}

// EncodeStateAsUpdate returns every op this engine holds that the peer
// described by remoteSV (as produced by EncodeStateVector, nil meaning an
// empty peer) has not yet seen.
func (e *Engine) EncodeStateAsUpdate(remoteSV []byte) ([]byte, error) {
	var sv map[uint64]uint64
	if len(remoteSV) > 0 {
		if err := json.Unmarshal(remoteSV, &sv); err != nil {
			return nil, fmt.Errorf("crdt: decode state vector: %w", err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := make([]uint64, 0, len(e.oplog))
	for c := range e.oplog {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	var missing []Op
	for _, client := range clients {
		have := sv[client]
		for _, op := range e.oplog[client] {
			if op.ID.Clock > have {
				missing = append(missing, op)
			}
		}
	}
	return json.Marshal(missing)
}

// ApplyUpdate merges a remote update (as produced by EncodeStateAsUpdate or
// a Transact broadcast) into this engine. Ops already known are skipped,
// making the call idempotent under redelivery. origin is forwarded
// unchanged to update observers and is otherwise unused by the engine.
func (e *Engine) ApplyUpdate(update []byte, origin any) error {
	var ops []Op
	if len(update) > 0 {
		if err := json.Unmarshal(update, &ops); err != nil {
			return fmt.Errorf("crdt: decode update: %w", err)
		}
	}

	e.mu.Lock()
	var applied []Op
	for _, op := range ops {
		have := uint64(0)
		if log := e.oplog[op.ID.Client]; len(log) > 0 {
			have = log[len(log)-1].ID.Clock
		}
		if op.ID.Clock <= have {
			continue // already known
		}
		e.applyLocal(op)
		e.oplog[op.ID.Client] = append(e.oplog[op.ID.Client], op)
		applied = append(applied, op)
	}
	e.mu.Unlock()

	e.fire(applied, origin)
	return nil
}

// Package transport implements the session protocol layer of
// SPEC_FULL.md §4.5: framed binary messages (sync step1/step2/update,
// awareness update) over a gorilla/websocket connection.
package transport

import (
	"bytes"
	"fmt"

	"github.com/Polqt/dacollab/crdt"
)

// Frame kind markers, the first varint of every message.
const (
	FrameSync      = uint64(0)
	FrameAwareness = uint64(1)
)

// EncodeSyncFrame wraps an already-encoded sync message body (as produced
// by crdt.WriteSyncStep1/2/Update) in the outer frame-kind marker.
func EncodeSyncFrame(body []byte) []byte {
	var buf bytes.Buffer
	crdt.WriteVarUint(&buf, FrameSync)
	buf.Write(body)
	return buf.Bytes()
}

// EncodeAwarenessFrame wraps an awareness update in the outer frame-kind
// marker.
func EncodeAwarenessFrame(update []byte) []byte {
	var buf bytes.Buffer
	crdt.WriteVarUint(&buf, FrameAwareness)
	crdt.WriteVarBytes(&buf, update)
	return buf.Bytes()
}

// DecodeFrame splits a raw incoming message into its frame kind and body.
func DecodeFrame(msg []byte) (kind uint64, body []byte, err error) {
	return crdt.ReadVarUint(msg)
}

// Dispatch decodes one incoming binary message and applies it to e,
// returning a reply frame to send back (nil if none is needed). origin is
// forwarded to the engine/awareness update observers.
func Dispatch(e *crdt.Engine, msg []byte, origin any) ([]byte, error) {
	kind, body, err := DecodeFrame(msg)
	if err != nil {
		return nil, fmt.Errorf("transport: decode frame: %w", err)
	}
	switch kind {
	case FrameSync:
		reply, err := crdt.ReadSyncMessage(e, body, origin)
		if err != nil {
			return nil, fmt.Errorf("transport: sync message: %w", err)
		}
		if reply == nil {
			return nil, nil
		}
		return EncodeSyncFrame(reply), nil
	case FrameAwareness:
		update, _, err := crdt.ReadVarBytes(body)
		if err != nil {
			return nil, fmt.Errorf("transport: awareness body: %w", err)
		}
		if err := e.Awareness.Apply(update, origin); err != nil {
			return nil, fmt.Errorf("transport: apply awareness: %w", err)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("transport: unknown frame kind %d", kind)
	}
}

// InitialMessages builds the two frames sent to a freshly attached
// session: sync step 1 (our state vector) and the current awareness
// table, per SPEC_FULL.md §4.6's bind/attach sequence.
func InitialMessages(e *crdt.Engine) (syncFrame, awarenessFrame []byte) {
	syncFrame = EncodeSyncFrame(crdt.WriteSyncStep1(e))
	awarenessFrame = EncodeAwarenessFrame(e.Awareness.EncodeAsUpdate(nil))
	return syncFrame, awarenessFrame
}

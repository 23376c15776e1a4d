package crdt

import "bytes"

// Sync step markers, per SPEC_FULL.md §4.5: the body of a "sync" frame
// (transport.FrameSync) is itself prefixed with one of these.
const (
	SyncStep1 = uint64(0) // carries a state vector
	SyncStep2 = uint64(1) // carries an update (reply to step1)
	SyncUpdate = uint64(2) // carries an update (unsolicited broadcast)
)

// WriteSyncStep1 builds the body of a step-1 sync message: this engine's
// state vector, so the peer can compute what we're missing.
func WriteSyncStep1(e *Engine) []byte {
	var buf bytes.Buffer
	WriteVarUint(&buf, SyncStep1)
	WriteVarBytes(&buf, e.EncodeStateVector())
	return buf.Bytes()
}

// WriteSyncStep2 builds the body of a step-2 sync message: the update
// computed in reply to a peer's step-1 state vector.
func WriteSyncStep2(update []byte) []byte {
	var buf bytes.Buffer
	WriteVarUint(&buf, SyncStep2)
	WriteVarBytes(&buf, update)
	return buf.Bytes()
}

// WriteSyncUpdate builds the body of an unsolicited update broadcast.
func WriteSyncUpdate(update []byte) []byte {
	var buf bytes.Buffer
	WriteVarUint(&buf, SyncUpdate)
	WriteVarBytes(&buf, update)
	return buf.Bytes()
}

// ReadSyncMessage implements the engine side of §4.5's "invoke the CRDT
// engine's readSyncMessage": it decodes a sync-frame body, applies any
// update it carries, and — for step1 only — returns a step2 reply body
// carrying what the peer is missing. A nil reply means nothing need be
// sent back.
func ReadSyncMessage(e *Engine, body []byte, origin any) (reply []byte, err error) {
	step, rest, err := ReadVarUint(body)
	if err != nil {
		return nil, err
	}
	switch step {
	case SyncStep1:
		remoteSV, _, err := ReadVarBytes(rest)
		if err != nil {
			return nil, err
		}
		update, err := e.EncodeStateAsUpdate(remoteSV)
		if err != nil {
			return nil, err
		}
		return WriteSyncStep2(update), nil
	case SyncStep2, SyncUpdate:
		update, _, err := ReadVarBytes(rest)
		if err != nil {
			return nil, err
		}
		if err := e.ApplyUpdate(update, origin); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, nil
	}
}

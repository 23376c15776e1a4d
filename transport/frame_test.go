package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/dacollab/crdt"
)

func TestSyncStep1RoundTripProducesStep2(t *testing.T) {
	server := crdt.NewEngine(1)
	server.Transact(func(tx *crdt.Tx) {
		tx.InsertElement(crdt.NodeID{}, crdt.NodeID{}, "p", nil)
	})

	client := crdt.NewEngine(2)
	syncFrame, _ := InitialMessages(client)

	// The server answers the client's step 1 with a step 2 carrying
	// everything the client's state vector says it lacks.
	reply, err := Dispatch(server, syncFrame, "peer")
	require.NoError(t, err)
	require.NotNil(t, reply)

	kind, _, err := DecodeFrame(reply)
	require.NoError(t, err)
	assert.Equal(t, FrameSync, kind)

	// Applying the reply on the client side should hand it the server's
	// one inserted element.
	_, err = Dispatch(client, reply, "peer")
	require.NoError(t, err)
	assert.Len(t, client.Children(crdt.NodeID{}), 1)
}

func TestAwarenessFrameRoundTrip(t *testing.T) {
	e := crdt.NewEngine(1)
	update := e.Awareness.SetLocalState(42, []byte(`{"name":"a"}`))
	frame := EncodeAwarenessFrame(update)

	other := crdt.NewEngine(2)
	reply, err := Dispatch(other, frame, nil)
	require.NoError(t, err)
	assert.Nil(t, reply)

	states := other.Awareness.States()
	assert.Contains(t, states, uint64(42))
}

func TestDispatchUnknownFrameKind(t *testing.T) {
	e := crdt.NewEngine(1)
	_, err := Dispatch(e, []byte{99}, nil)
	assert.Error(t, err)
}

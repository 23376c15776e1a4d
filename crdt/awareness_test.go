package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwarenessSetLocalStateThenEncodeAsUpdate(t *testing.T) {
	a := NewAwareness()
	update := a.SetLocalState(1, []byte(`{"name":"alice"}`))

	other := NewAwareness()
	require.NoError(t, other.Apply(update, nil))

	states := other.States()
	require.Contains(t, states, uint64(1))
	assert.JSONEq(t, `{"name":"alice"}`, string(states[1]))
}

// TestAwarenessMergeIsUnion is P3: applying every client's individual
// update to a fresh table yields exactly the union of all live states,
// independent of application order.
func TestAwarenessMergeIsUnion(t *testing.T) {
	a := NewAwareness()
	u1 := a.SetLocalState(1, []byte(`"a"`))
	u2 := a.SetLocalState(2, []byte(`"b"`))
	u3 := a.SetLocalState(3, []byte(`"c"`))

	dst := NewAwareness()
	require.NoError(t, dst.Apply(u3, nil))
	require.NoError(t, dst.Apply(u1, nil))
	require.NoError(t, dst.Apply(u2, nil))

	assert.Len(t, dst.States(), 3)
	assert.Equal(t, a.States(), dst.States())
}

func TestAwarenessHigherClockWins(t *testing.T) {
	a := NewAwareness()
	stale := a.SetLocalState(1, []byte(`"first"`))
	fresh := a.SetLocalState(1, []byte(`"second"`))

	dst := NewAwareness()
	require.NoError(t, dst.Apply(fresh, nil))
	require.NoError(t, dst.Apply(stale, nil)) // out-of-order redelivery must not regress

	states := dst.States()
	assert.JSONEq(t, `"second"`, string(states[1]))
}

func TestAwarenessRemoveStatesFiresRemoved(t *testing.T) {
	a := NewAwareness()
	a.SetLocalState(5, []byte(`"x"`))

	var removed []uint64
	a.OnChange(func(added, updated, rm []uint64, origin any) {
		removed = append(removed, rm...)
	})
	a.RemoveStates([]uint64{5}, nil)

	assert.Equal(t, []uint64{5}, removed)
	assert.NotContains(t, a.States(), uint64(5))
}

func TestAwarenessEncodeAsUpdateEmptyIDsEncodesEverything(t *testing.T) {
	a := NewAwareness()
	a.SetLocalState(1, []byte(`"a"`))
	a.SetLocalState(2, []byte(`"b"`))

	dst := NewAwareness()
	require.NoError(t, dst.Apply(a.EncodeAsUpdate(nil), nil))
	assert.Len(t, dst.States(), 2)
}

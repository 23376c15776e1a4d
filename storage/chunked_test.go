package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memKV is an in-process KV fake used so storage tests don't need a bbolt
// file on disk.
type memKV struct {
	fields map[string][]byte
}

func newMemKV() *memKV { return &memKV{fields: map[string][]byte{}} }

func (m *memKV) List() (map[string][]byte, error) {
	out := make(map[string][]byte, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out, nil
}

func (m *memKV) Put(fields map[string][]byte) error {
	for k, v := range fields {
		m.fields[k] = v
	}
	return nil
}

func (m *memKV) DeleteAll() error {
	m.fields = map[string][]byte{}
	return nil
}

func TestChunkedRoundTripSmallState(t *testing.T) {
	kv := newMemKV()
	c := NewChunked(kv, "doc-a")
	state := []byte("hello world")
	require.NoError(t, c.Write(state, MaxValue))

	got, found, err := c.Read()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, state, got)
	assert.Contains(t, kv.fields, fieldDocstore)
}

func TestChunkedStorageScenario(t *testing.T) {
	kv := newMemKV()
	c := NewChunked(kv, "doc-b")
	state := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.NoError(t, c.Write(state, 4))

	assert.Equal(t, []byte("3"), kv.fields[fieldChunks])
	assert.Equal(t, []byte{1, 2, 3, 4}, kv.fields[chunkField(0)])
	assert.Equal(t, []byte{5, 6, 7, 8}, kv.fields[chunkField(1)])
	assert.Equal(t, []byte{9}, kv.fields[chunkField(2)])
	assert.NotContains(t, kv.fields, fieldDocstore)

	got, found, err := c.Read()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, state, got)
}

func TestChunkedRoundTripProperty(t *testing.T) {
	for _, chunkSize := range []int{1, 3, 4, 16, MaxValue} {
		state := make([]byte, 37)
		for i := range state {
			state[i] = byte(i)
		}
		kv := newMemKV()
		c := NewChunked(kv, "doc-prop")
		require.NoError(t, c.Write(state, chunkSize))
		got, found, err := c.Read()
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, state, got, "chunkSize=%d", chunkSize)
	}
}

func TestChunkedWriteOverflow(t *testing.T) {
	kv := newMemKV()
	c := NewChunked(kv, "doc-c")
	state := make([]byte, MaxKeys*4)
	err := c.Write(state, 4)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestChunkedStaleRecordDiscarded(t *testing.T) {
	kv := newMemKV()
	require.NoError(t, kv.Put(map[string][]byte{
		fieldDoc:      []byte("old-occupant"),
		fieldDocstore: []byte("leftover"),
	}))

	c := NewChunked(kv, "doc-new")
	got, found, err := c.Read()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
	assert.Empty(t, kv.fields, "stale record must be cleared")
}

func TestChunkedEmptySlot(t *testing.T) {
	kv := newMemKV()
	c := NewChunked(kv, "doc-empty")
	_, found, err := c.Read()
	require.NoError(t, err)
	assert.False(t, found)
}

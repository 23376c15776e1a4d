package storage

import (
	"errors"
	"fmt"
	"strconv"
)

// MaxValue and MaxKeys are the bounded key/value store's limits assumed by
// the chunked record layout (SPEC_FULL.md §4.2).
const (
	MaxValue = 131072
	MaxKeys  = 128
)

// ErrOverflow is returned by Write when state would require MaxKeys or
// more chunks to store.
var ErrOverflow = errors.New("storage: chunk count reaches MAX_KEYS")

const (
	fieldDoc      = "doc"
	fieldDocstore = "docstore"
	fieldChunks   = "chunks"
)

func chunkField(i int) string { return fmt.Sprintf("chunk_%d", i) }

// Chunked implements the read/write algorithm of §4.2 on top of any KV: a
// record is either a single "docstore" field (state smaller than the
// chunk size) or a "chunks" count plus that many "chunk_N" fields.
type Chunked struct {
	kv   KV
	name string
}

// NewChunked scopes a chunked codec to one document name; name is written
// into every record's "doc" field and checked on every read so a record
// left behind by a previous occupant of the same storage slot is detected
// and discarded (P6).
func NewChunked(kv KV, name string) *Chunked {
	return &Chunked{kv: kv, name: name}
}

// Read returns the document's stored state. found is false if the slot is
// empty or held a stale record for a different document name — in the
// stale case the slot is cleared as a side effect, matching §4.2's "discard
// and return none" recovery.
func (c *Chunked) Read() (state []byte, found bool, err error) {
	fields, err := c.kv.List()
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	docField, ok := fields[fieldDoc]
	if !ok || string(docField) != c.name {
		if err := c.kv.DeleteAll(); err != nil {
			return nil, false, fmt.Errorf("storage: discard stale record: %w", err)
		}
		return nil, false, nil
	}

	if raw, ok := fields[fieldDocstore]; ok {
		return raw, true, nil
	}

	countRaw, ok := fields[fieldChunks]
	if !ok {
		return nil, false, nil
	}
	n, err := strconv.Atoi(string(countRaw))
	if err != nil {
		return nil, false, fmt.Errorf("storage: malformed chunk count: %w", err)
	}

	var buf []byte
	for i := 0; i < n; i++ {
		chunk, ok := fields[chunkField(i)]
		if !ok {
			return nil, false, fmt.Errorf("storage: missing %s for %d-chunk record", chunkField(i), n)
		}
		buf = append(buf, chunk...)
	}
	return buf, true, nil
}

// Write serializes state, always clearing the slot first. chunkSize governs
// how the oversized-state branch splits state into fixed-size chunks;
// production callers pass MaxValue, tests may pass a small value to
// exercise the chunking branch without megabyte fixtures.
func (c *Chunked) Write(state []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = MaxValue
	}
	if err := c.kv.DeleteAll(); err != nil {
		return fmt.Errorf("storage: clear before write: %w", err)
	}

	fields := map[string][]byte{fieldDoc: []byte(c.name)}
	if len(state) < chunkSize {
		fields[fieldDocstore] = state
	} else {
		n := (len(state) + chunkSize - 1) / chunkSize
		if n >= MaxKeys {
			return ErrOverflow
		}
		for i := 0; i < n; i++ {
			start := i * chunkSize
			end := start + chunkSize
			if end > len(state) {
				end = len(state)
			}
			fields[chunkField(i)] = state[start:end]
		}
		fields[fieldChunks] = []byte(strconv.Itoa(n))
	}

	if err := c.kv.Put(fields); err != nil {
		return fmt.Errorf("storage: put record: %w", err)
	}
	return nil
}

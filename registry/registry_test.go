package registry

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetOrCreateReturnsSameInstance(t *testing.T) {
	r := New[*int]()
	a, created := r.GetOrCreate("doc", func() *int { v := 1; return &v })
	assert.True(t, created)
	b, created := r.GetOrCreate("doc", func() *int { v := 2; return &v })
	assert.False(t, created)
	assert.Same(t, a, b)
}

func TestRemoveIfEmptyOnlyWhenEmpty(t *testing.T) {
	r := New[int]()
	r.GetOrCreate("doc", func() int { return 3 })

	assert.False(t, r.RemoveIfEmpty("doc", func(v int) bool { return v == 0 }))
	_, ok := r.Get("doc")
	assert.True(t, ok)

	assert.True(t, r.RemoveIfEmpty("doc", func(v int) bool { return v == 3 }))
	_, ok = r.Get("doc")
	assert.False(t, ok)
}

func TestRemoveAlwaysClears(t *testing.T) {
	r := New[int]()
	r.GetOrCreate("doc", func() int { return 1 })
	r.Remove("doc")
	_, ok := r.Get("doc")
	assert.False(t, ok)
}

// TestConcurrentGetOrCreateUniqueness exercises P2 (registry uniqueness):
// many goroutines racing to create the same name must all observe exactly
// one created instance.
func TestConcurrentGetOrCreateUniqueness(t *testing.T) {
	r := New[*int]()
	const n = 200
	results := make([]*int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			v, _ := r.GetOrCreate("shared-"+strconv.Itoa(0), func() *int {
				x := i
				return &x
			})
			results[i] = v
		}()
	}
	wg.Wait()

	first := results[0]
	for _, r := range results {
		assert.Same(t, first, r)
	}
	assert.Equal(t, 1, r.Len())
}

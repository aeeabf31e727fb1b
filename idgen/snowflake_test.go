package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBranchIDGeneratorUnique(t *testing.T) {
	g := NewBranchIDGenerator(3)
	seen := map[int64]bool{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := g.Next()
				mu.Lock()
				assert.False(t, seen[id], "duplicate branch id generated")
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10000, len(seen))
}

func TestBranchIDGeneratorMonotonic(t *testing.T) {
	g := NewBranchIDGenerator(1)
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestXIDGeneratorFormat(t *testing.T) {
	g := NewXIDGenerator("order-service")
	xid := g.Next()
	assert.Contains(t, xid, "order-service:")
	second := g.Next()
	assert.NotEqual(t, xid, second)
}

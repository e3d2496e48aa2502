package idalloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPointID_Monotonic(t *testing.T) {
	a := New(0, 0)
	prev := int64(0)
	for i := 0; i < 100; i++ {
		id := a.NextPointID()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNew_SeedsHighWaterMark(t *testing.T) {
	a := New(1000, 2000)
	assert.Equal(t, int64(1001), a.NextPointID())
	assert.Equal(t, int64(2001), a.NextSegmentID())
}

func TestNextPointID_ConcurrentIDsAreUnique(t *testing.T) {
	a := New(0, 0)
	const n = 500
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = a.NextPointID()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestSegmentAndPointIDsIndependent(t *testing.T) {
	a := New(0, 0)
	assert.Equal(t, int64(1), a.NextPointID())
	assert.Equal(t, int64(1), a.NextSegmentID())
	assert.Equal(t, int64(2), a.NextPointID())
}

// ABOUTME: Tests for the seen-id set used to drop duplicate message deliveries.
// ABOUTME: Validates marking, eviction order, forgetting, reset and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_CheckAndMark(t *testing.T) {
	s := New(10)

	assert.False(t, s.Check("m1"))
	assert.False(t, s.CheckAndMark("m1"), "first sighting is not a duplicate")
	assert.True(t, s.CheckAndMark("m1"), "second sighting is a duplicate")
	assert.True(t, s.Check("m1"))
	assert.Equal(t, 1, s.Len())
}

func TestSet_EvictsOldestAtCapacity(t *testing.T) {
	s := New(3)
	s.Mark("a")
	s.Mark("b")
	s.Mark("c")
	s.Mark("a") // already present, does not refresh order

	s.Mark("d")

	assert.False(t, s.Check("a"), "oldest id should be evicted")
	assert.True(t, s.Check("b"))
	assert.True(t, s.Check("c"))
	assert.True(t, s.Check("d"))
	assert.Equal(t, 3, s.Len())
}

func TestSet_UnboundedKeepsEveryID(t *testing.T) {
	s := New(0)
	for i := 0; i <= 20000; i++ {
		s.Mark(fmt.Sprintf("m%d", i))
	}

	assert.Equal(t, 20001, s.Len())
	assert.True(t, s.CheckAndMark("m0"), "first id must still be remembered")
}

func TestSet_ForgetAndReset(t *testing.T) {
	s := New(0)
	s.Mark("x")
	s.Mark("y")

	s.Forget("x")
	assert.False(t, s.Check("x"))
	assert.True(t, s.Check("y"))

	s.Forget("missing")
	assert.Equal(t, 1, s.Len())

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.CheckAndMark("y"))
}

func TestSet_ConcurrentCheckAndMarkAdmitsOnce(t *testing.T) {
	s := New(100)
	var admitted int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.CheckAndMark("same-id") {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted)
}

func TestSet_ConcurrentDistinctIDs(t *testing.T) {
	s := New(1000)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s.Mark(fmt.Sprintf("%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200, s.Len())
}

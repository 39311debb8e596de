package lamport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTick_StartsFromZero(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Value())
	assert.Equal(t, int64(1), c.Tick())
	assert.Equal(t, int64(2), c.Tick())
}

func TestObserve_MaxPlusOne(t *testing.T) {
	c := NewClockAt(5)

	// max(5, 10)+1
	assert.Equal(t, int64(11), c.Observe(10))
	// max(11, 3)+1
	assert.Equal(t, int64(12), c.Observe(3))
	// equal timestamps still advance
	assert.Equal(t, int64(13), c.Observe(12))
}

func TestObserve_NegativeTimestampIsIgnored(t *testing.T) {
	c := NewClockAt(4)
	assert.Equal(t, int64(5), c.Observe(-7))
}

func TestClock_ConcurrentTicksLoseNoUpdates(t *testing.T) {
	c := NewClock()
	const workers = 32
	const perWorker = 500

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.Tick()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), c.Value())
}

func TestClock_ConcurrentObserveAndTick(t *testing.T) {
	c := NewClock()
	const workers = 16
	const perWorker = 200

	// Every observed value is below the running clock except the first one,
	// so each call contributes exactly +1 after the clock passes 1.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.Tick()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.Observe(0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2*workers*perWorker), c.Value())
}

func TestClock_ValuesAreUnique(t *testing.T) {
	c := NewClock()
	const n = 1000

	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				results <- c.Tick()
			} else {
				results <- c.Observe(1)
			}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for v := range results {
		assert.False(t, seen[v], "duplicate clock value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
}

func TestLess(t *testing.T) {
	assert.True(t, Less(1, "b", 2, "a"))
	assert.False(t, Less(2, "a", 1, "b"))
	assert.True(t, Less(5, "alice", 5, "bob"))
	assert.False(t, Less(5, "bob", 5, "alice"))
	assert.False(t, Less(5, "alice", 5, "alice"))
}

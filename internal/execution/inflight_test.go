package execution

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightDeduper_RejectsWhileRunning(t *testing.T) {
	d := NewInFlightDeduper(time.Minute, 4)

	require.NoError(t, d.TryAcquire("req-1"))
	assert.ErrorIs(t, d.TryAcquire("req-1"), ErrDuplicateInFlight)
	assert.NoError(t, d.TryAcquire("req-2"))

	d.Release("req-1")
	assert.NoError(t, d.TryAcquire("req-1"))
}

func TestInFlightDeduper_EmptyKeyAndNil(t *testing.T) {
	d := NewInFlightDeduper(0, 0)
	assert.NoError(t, d.TryAcquire(""))
	assert.NoError(t, d.TryAcquire(""))
	assert.Equal(t, 0, d.Len())

	var nilD *InFlightDeduper
	assert.NoError(t, nilD.TryAcquire("x"))
	nilD.Release("x")
}

func TestInFlightDeduper_Expires(t *testing.T) {
	d := NewInFlightDeduper(time.Second, 1)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	require.NoError(t, d.TryAcquire("a"))
	now = now.Add(500 * time.Millisecond)
	assert.ErrorIs(t, d.TryAcquire("a"), ErrDuplicateInFlight)

	now = now.Add(time.Second)
	assert.NoError(t, d.TryAcquire("a"))
	assert.Equal(t, 1, d.Len())
}

func TestInFlightDeduper_Concurrent(t *testing.T) {
	d := NewInFlightDeduper(time.Minute, 8)
	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if d.TryAcquire(fmt.Sprintf("k%d", i%4)) == nil {
				atomic.AddInt64(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(4), wins)
}

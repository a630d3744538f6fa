package transport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextRequestIDsAreUnique(t *testing.T) {
	c := newCorrelator()
	seen := map[string]bool{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := c.nextRequestID()
			mu.Lock()
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 200)
}

func TestResolveRemovesPendingRecord(t *testing.T) {
	c := newCorrelator()
	var resolved any
	c.track(&pendingRequest{id: "1", resolve: func(d any) { resolved = d }, reject: func(error) {}})
	require.Equal(t, 1, c.size())
	require.True(t, c.resolve("1", "data"))
	require.Equal(t, "data", resolved)
	require.Equal(t, 0, c.size())
}

func TestLateDuplicateResponseIsDropped(t *testing.T) {
	c := newCorrelator()
	require.False(t, c.resolve("nonexistent", "data"))
}

func TestMarkAckedStopsRetryTimer(t *testing.T) {
	c := newCorrelator()
	fired := 0
	pr := &pendingRequest{id: "1", resolve: func(any) {}, reject: func(error) {}}
	pr.retryTimer = newRetryTimer(func() { fired++ })
	c.track(pr)
	require.True(t, c.markAcked("1"))
	require.True(t, pr.acked)
	require.True(t, pr.retryTimer.stopped)
}

func TestDrainAllRejectsEveryPending(t *testing.T) {
	c := newCorrelator()
	var rejections []error
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		c.track(&pendingRequest{
			id:      formatRequestID(uint64(i + 1)),
			resolve: func(any) {},
			reject: func(err error) {
				mu.Lock()
				rejections = append(rejections, err)
				mu.Unlock()
			},
		})
	}
	c.drainAll(ErrEndpointClosed)
	require.Len(t, rejections, 3)
	require.Equal(t, 0, c.size())
}

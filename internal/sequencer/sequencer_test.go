package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaviraOSS/openmemory-go/internal/config"
)

func newTestSequencer(t *testing.T, cfg config.WriteConfig) *Sequencer {
	t.Helper()
	s := New(cfg, nil)
	t.Cleanup(s.Close)
	return s
}

func TestDoReturnsResult(t *testing.T) {
	s := newTestSequencer(t, config.WriteConfig{QueueSize: 8})

	v, err := s.Do(context.Background(), func(context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFIFOOrder(t *testing.T) {
	s := newTestSequencer(t, config.WriteConfig{QueueSize: 64})

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		// Submit from one goroutine to fix submission order; completion
		// order must match it.
		go func() {
			defer wg.Done()
			_, err := s.Do(context.Background(), func(context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
			assert.NoError(t, err)
		}()
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	require.Len(t, order, 20)
	for i, got := range order {
		assert.Equal(t, i, got, "task %d executed out of order", i)
	}
}

func TestFailureIsolatedToOwnWaiter(t *testing.T) {
	s := newTestSequencer(t, config.WriteConfig{QueueSize: 8})

	boom := errors.New("boom")
	_, err := s.Do(context.Background(), func(context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// The queue keeps serving after a failure.
	v, err := s.Do(context.Background(), func(context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestTaskTimeoutDoesNotStallQueue(t *testing.T) {
	s := newTestSequencer(t, config.WriteConfig{QueueSize: 8, Timeout: 20 * time.Millisecond})

	release := make(chan struct{})
	_, err := s.Do(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrTaskTimeout)
	close(release)

	v, err := s.Do(context.Background(), func(context.Context) (any, error) {
		return "after", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "after", v)
}

func TestContextCancelledWhileWaiting(t *testing.T) {
	s := newTestSequencer(t, config.WriteConfig{QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Do(ctx, func(context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPanicRecovered(t *testing.T) {
	s := newTestSequencer(t, config.WriteConfig{QueueSize: 8})

	_, err := s.Do(context.Background(), func(context.Context) (any, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	_, err = s.Do(context.Background(), func(context.Context) (any, error) {
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestCloseRejectsNewTasks(t *testing.T) {
	s := New(config.WriteConfig{QueueSize: 8}, nil)
	s.Close()

	_, err := s.Do(context.Background(), func(context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	s.Close()
}

func TestCloseWaitsForBlockedEnqueue(t *testing.T) {
	s := New(config.WriteConfig{QueueSize: 1, Timeout: 5 * time.Second}, nil)

	release := make(chan struct{})
	var wg sync.WaitGroup

	// Occupy the consumer so the buffer stays full.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Do(context.Background(), func(context.Context) (any, error) {
			<-release
			return nil, nil
		})
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)

	// Fill the single buffer slot.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Do(context.Background(), func(context.Context) (any, error) {
			return nil, nil
		})
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)

	// Park a third submit on the full queue. It was accepted before Close, so
	// it must run to completion, never panic on a closed channel.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			assert.Nil(t, recover(), "Do must not panic when racing Close")
		}()
		_, err := s.Do(context.Background(), func(context.Context) (any, error) {
			return "third", nil
		})
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)

	close(release)
	wg.Wait()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the queue drained")
	}

	_, err := s.Do(context.Background(), func(context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInterTaskDelay(t *testing.T) {
	s := newTestSequencer(t, config.WriteConfig{QueueSize: 8, Delay: 10 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := s.Do(context.Background(), func(context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}
	// Two inter-task gaps at minimum.
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

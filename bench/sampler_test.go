package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingObserver) Observe(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

func keyFor(i int) Request {
	return Request{Key: fmt.Sprintf("bench/object-%d", i)}
}

func TestSamplerRecordsEveryIteration(t *testing.T) {
	durations := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 150 * time.Millisecond}
	var seen []Request
	invoker := InvokerFunc(func(ctx context.Context, req Request) Result {
		seen = append(seen, req)
		return Succeeded(durations[len(seen)-1], 1024)
	})

	observer := &recordingObserver{}
	sampler := NewSampler(invoker, WithDelay(0), WithObserver(observer))
	outcomes := sampler.Run(context.Background(), KindPut, 3, keyFor)

	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, KindPut, o.Kind)
		assert.Equal(t, i+1, o.Iteration)
		assert.True(t, o.Success)
		assert.Equal(t, durations[i], o.Elapsed)
		assert.Equal(t, int64(1024), o.Bytes)
	}
	require.Len(t, seen, 3)
	assert.Equal(t, KindPut, seen[0].Kind)
	assert.Equal(t, "bench/object-3", seen[2].Key)
	assert.Equal(t, 3, observer.count())

	stats := Reduce(KindPut, outcomes)
	assert.Equal(t, 150*time.Millisecond, stats.AverageDuration)
	assert.InDelta(t, 6.67, stats.ThroughputOpsPerSec, 0.01)
}

func TestSamplerContinuesAfterFailures(t *testing.T) {
	calls := 0
	invoker := InvokerFunc(func(ctx context.Context, req Request) Result {
		calls++
		if calls%2 == 1 {
			return Failed(time.Millisecond, errors.New("503 slow down"))
		}
		return Succeeded(time.Millisecond, 0)
	})

	outcomes := NewSampler(invoker, WithDelay(0)).Run(context.Background(), KindGet, 5, keyFor)

	require.Len(t, outcomes, 5)
	assert.Equal(t, 5, calls)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, "503 slow down", outcomes[0].Reason())
	assert.True(t, outcomes[1].Success)
	assert.Empty(t, outcomes[1].Reason())
}

func TestSamplerAllFailures(t *testing.T) {
	invoker := InvokerFunc(func(ctx context.Context, req Request) Result {
		return Failed(0, errors.New("no such bucket"))
	})

	outcomes := NewSampler(invoker, WithDelay(0)).Run(context.Background(), KindGet, 3, keyFor)
	require.Len(t, outcomes, 3)

	stats := Reduce(KindGet, outcomes)
	assert.Equal(t, 0, stats.Successful)
	assert.Equal(t, 0.0, stats.SuccessRatePct)
	assert.Equal(t, time.Duration(0), stats.AverageDuration)
	for _, o := range outcomes {
		// Elapsed falls back to the sampler's own measurement.
		assert.Greater(t, o.Elapsed, time.Duration(0))
	}
}

func TestSamplerCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	invoker := InvokerFunc(func(ctx context.Context, req Request) Result {
		calls++
		if calls == 2 {
			cancel()
		}
		return Succeeded(time.Millisecond, 0)
	})

	outcomes := NewSampler(invoker, WithDelay(10*time.Millisecond)).Run(ctx, KindList, 6, keyFor)

	require.Len(t, outcomes, 6)
	assert.Equal(t, 2, calls)
	assert.True(t, outcomes[0].Success)
	assert.True(t, outcomes[1].Success)
	for _, o := range outcomes[2:] {
		assert.False(t, o.Success)
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}

func TestSamplerCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	invoker := InvokerFunc(func(ctx context.Context, req Request) Result {
		calls++
		cancel()
		return Succeeded(time.Millisecond, 0)
	})

	start := time.Now()
	outcomes := NewSampler(invoker, WithDelay(time.Hour)).Run(ctx, KindPut, 4, keyFor)

	assert.Less(t, time.Since(start), time.Minute)
	require.Len(t, outcomes, 4)
	assert.Equal(t, 1, calls)
	assert.True(t, outcomes[0].Success)
	for _, o := range outcomes[1:] {
		assert.False(t, o.Success)
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}

func TestSamplerDelayBetweenIterations(t *testing.T) {
	invoker := InvokerFunc(func(ctx context.Context, req Request) Result {
		return Succeeded(time.Microsecond, 0)
	})

	start := time.Now()
	NewSampler(invoker, WithDelay(20*time.Millisecond)).Run(context.Background(), KindDelete, 3, keyFor)
	elapsed := time.Since(start)

	// Two pauses: none after the final iteration.
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestSamplerZeroIterations(t *testing.T) {
	invoker := InvokerFunc(func(ctx context.Context, req Request) Result {
		t.Fatal("invoker must not be called")
		return Result{}
	})
	assert.Empty(t, NewSampler(invoker).Run(context.Background(), KindPut, 0, keyFor))
}

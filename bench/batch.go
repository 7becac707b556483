package bench

import (
	"context"
	"sync"
	"time"
)

// BatchRunner launches a fixed number of invocations in parallel and
// measures their aggregate wall-clock time.
type BatchRunner struct {
	invoker  Invoker
	observer Observer
}

// NewBatchRunner creates a batch runner driving invoker. observer may be nil.
func NewBatchRunner(invoker Invoker, observer Observer) *BatchRunner {
	return &BatchRunner{
		invoker:  invoker,
		observer: observer,
	}
}

// Run starts concurrency invocations behind a shared start barrier and
// blocks until every one of them has returned. Individual failures are
// counted in the result and never abort the batch.
func (br *BatchRunner) Run(ctx context.Context, concurrency int, payloadSize int64, requestFor func(i int) Request) BatchResult {
	result := BatchResult{
		Concurrency: concurrency,
		PayloadSize: payloadSize,
	}
	if concurrency <= 0 {
		return result
	}

	outcomes := make([]Outcome, concurrency)
	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			<-start

			startedAt := time.Now()
			var res Result
			if err := ctx.Err(); err != nil {
				res = Failed(0, err)
			} else {
				req := requestFor(slot + 1)
				req.Kind = KindBatch
				res = br.invoker.Invoke(ctx, req)
				if res.Elapsed <= 0 {
					res.Elapsed = time.Since(startedAt)
				}
			}

			outcomes[slot] = Outcome{
				Kind:      KindBatch,
				Iteration: slot + 1,
				StartedAt: startedAt,
				Success:   res.Success,
				Elapsed:   res.Elapsed,
				Bytes:     res.Bytes,
				Err:       res.Err,
			}
		}(i)
	}

	began := time.Now()
	close(start)
	wg.Wait()
	result.Elapsed = time.Since(began)

	for _, o := range outcomes {
		if o.Success {
			result.Successful++
		}
		if br.observer != nil {
			br.observer.Observe(o)
		}
	}
	result.Outcomes = outcomes

	return result
}

package bench

import (
	"context"
	"time"
)

// DefaultInterIterationDelay keeps consecutive iterations from saturating
// the target.
const DefaultInterIterationDelay = 100 * time.Millisecond

// Sampler runs a fixed number of iterations of one operation kind.
type Sampler struct {
	invoker  Invoker
	delay    time.Duration
	observer Observer
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithDelay sets the pause between iterations.
func WithDelay(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		s.delay = d
	}
}

// WithObserver registers an observer for every recorded outcome.
func WithObserver(o Observer) SamplerOption {
	return func(s *Sampler) {
		s.observer = o
	}
}

// NewSampler creates a sampler driving invoker.
func NewSampler(invoker Invoker, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		invoker: invoker,
		delay:   DefaultInterIterationDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs iterations attempts of kind, building each request with
// requestFor (called with the 1-based iteration index). It always returns
// exactly iterations outcomes: failures are recorded and sampling goes on,
// and once ctx is done the remaining iterations are recorded as failed
// without being invoked.
func (s *Sampler) Run(ctx context.Context, kind Kind, iterations int, requestFor func(i int) Request) []Outcome {
	if iterations <= 0 {
		return nil
	}
	outcomes := make([]Outcome, 0, iterations)

	for i := 1; i <= iterations; i++ {
		startedAt := time.Now()

		var res Result
		if err := ctx.Err(); err != nil {
			res = Failed(0, err)
		} else {
			req := requestFor(i)
			req.Kind = kind
			res = s.invoker.Invoke(ctx, req)
			if res.Elapsed <= 0 {
				res.Elapsed = time.Since(startedAt)
			}
		}

		outcome := Outcome{
			Kind:      kind,
			Iteration: i,
			StartedAt: startedAt,
			Success:   res.Success,
			Elapsed:   res.Elapsed,
			Bytes:     res.Bytes,
			Err:       res.Err,
		}
		outcomes = append(outcomes, outcome)
		if s.observer != nil {
			s.observer.Observe(outcome)
		}

		if i < iterations {
			pause(ctx, s.delay)
		}
	}

	return outcomes
}

// pause sleeps for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

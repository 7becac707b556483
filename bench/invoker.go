package bench

import (
	"context"
	"time"
)

// Request describes a single operation against the bucket under test.
type Request struct {
	Kind Kind
	// Key is the object key, or the listing prefix for LIST.
	Key string
	// LocalPath is the upload source for PUT and the download target for GET.
	LocalPath string
}

// Result is what an invoker reports for one request. The aggregator only
// ever sees this value, never raw exit codes or HTTP statuses.
type Result struct {
	Success bool
	Elapsed time.Duration
	Bytes   int64
	Err     error
}

// Succeeded builds a successful result.
func Succeeded(elapsed time.Duration, bytes int64) Result {
	return Result{Success: true, Elapsed: elapsed, Bytes: bytes}
}

// Failed builds a failed result carrying the reason.
func Failed(elapsed time.Duration, err error) Result {
	return Result{Success: false, Elapsed: elapsed, Err: err}
}

// Invoker performs one storage operation and reports its outcome.
type Invoker interface {
	Invoke(ctx context.Context, req Request) Result
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) Result

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// BucketProvisioner creates the bucket the run writes into.
type BucketProvisioner interface {
	CreateBucket(ctx context.Context) error
}

// Observer receives every outcome as it is recorded.
type Observer interface {
	Observe(o Outcome)
}

// Observers fans an outcome out to several observers.
type Observers []Observer

// Observe forwards o to every observer.
func (obs Observers) Observe(o Outcome) {
	for _, ob := range obs {
		ob.Observe(o)
	}
}

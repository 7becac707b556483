package harness

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"rustfs-bench/logging"
)

type releaseFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// teardown releases everything a run acquired, in reverse order of
// acquisition, exactly once.
type teardown struct {
	logger logging.Logger

	mu       sync.Mutex
	releases []releaseFunc
	once     sync.Once
}

func newTeardown(logger logging.Logger) *teardown {
	return &teardown{logger: logger}
}

// add registers a release step.
func (t *teardown) add(name string, fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releases = append(t.releases, releaseFunc{name: name, fn: fn})
}

// run executes every registered step. A failing step is logged and does not
// stop the rest. The context passed in must not be the run's cancellable
// context, or an interrupted run would skip its own cleanup.
func (t *teardown) run(ctx context.Context) {
	t.once.Do(func() {
		t.mu.Lock()
		releases := t.releases
		t.mu.Unlock()

		t.logger.Info(ctx, "Tearing down", zap.Int("steps", len(releases)))
		for i := len(releases) - 1; i >= 0; i-- {
			r := releases[i]
			if err := r.fn(ctx); err != nil {
				t.logger.Warn(ctx, "Teardown step failed", zap.String("step", r.name), zap.Error(err))
				continue
			}
			t.logger.Debug(ctx, "Teardown step done", zap.String("step", r.name))
		}
	})
}

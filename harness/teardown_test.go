package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"rustfs-bench/logging"
)

func TestTeardownRunsInReverseOnce(t *testing.T) {
	td := newTeardown(logging.NewNop())
	var order []string

	td.add("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	td.add("failing", func(context.Context) error {
		order = append(order, "failing")
		return errors.New("boom")
	})
	td.add("last", func(context.Context) error {
		order = append(order, "last")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	td.run(context.WithoutCancel(ctx))
	td.run(context.Background())

	assert.Equal(t, []string{"last", "failing", "first"}, order)
}

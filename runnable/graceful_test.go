package runnable

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestGracefulStart(t *testing.T) {
	var startCount, stopCount int

	start := func(context.Context) error {
		startCount++
		return nil
	}
	stop := func() error {
		stopCount++
		return nil
	}

	gr := NewGraceful(start, stop, nil)
	assert.Nil(t, gr.Start(context.TODO()))

	assert.Equal(t, 1, startCount)
	assert.Equal(t, 1, stopCount)
}

func TestGroupStopsInReverseOrder(t *testing.T) {
	var order []string

	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	stop := func(name string) StopCall {
		return func() error {
			order = append(order, name)
			return nil
		}
	}

	g := NewGroup(nil)
	g.Add(
		NewGraceful(block, stop("first"), nil),
		NewGraceful(block, stop("second"), nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, g.Run(ctx))

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestGroupPropagatesFailures(t *testing.T) {
	boom := errors.New("boom")

	g := NewGroup(nil)
	g.Add(
		NewGraceful(func(context.Context) error { return boom }, nil, nil),
		NewGraceful(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, nil, nil),
	)

	err := g.Run(context.Background())
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "boom")
}

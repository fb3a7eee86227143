package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchWaitsForExtendedWork(t *testing.T) {
	d := NewDispatcher()
	var done atomic.Bool
	d.Register(EventSync, func(e *Event) error {
		e.WaitUntil(func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			done.Store(true)
			return nil
		})
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), NewEvent(EventSync)))
	assert.True(t, done.Load())
}

func TestDispatchRunsHandlersInOrder(t *testing.T) {
	d := NewDispatcher()
	var order []int
	for i := 1; i <= 3; i++ {
		d.Register(EventPush, func(e *Event) error {
			order = append(order, i)
			return nil
		})
	}
	d.Register(EventSync, func(e *Event) error {
		t.Fatal("wrong event")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), NewEvent(EventPush)))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestDispatchErrors(t *testing.T) {
	errSeed := errors.New("seed failed")

	t.Run("handler", func(t *testing.T) {
		d := NewDispatcher()
		ran := false
		d.Register(EventInstall, func(e *Event) error { return errSeed })
		d.Register(EventInstall, func(e *Event) error {
			ran = true
			return nil
		})
		err := d.Dispatch(context.Background(), NewEvent(EventInstall))
		require.ErrorIs(t, err, errSeed)
		assert.Contains(t, err.Error(), "install handler")
		assert.False(t, ran, "later handlers are skipped")
	})

	t.Run("extended work", func(t *testing.T) {
		d := NewDispatcher()
		var cancelled atomic.Bool
		d.Register(EventActivate, func(e *Event) error {
			e.WaitUntil(func(context.Context) error { return errSeed })
			e.WaitUntil(func(ctx context.Context) error {
				<-ctx.Done()
				cancelled.Store(true)
				return nil
			})
			return nil
		})
		err := d.Dispatch(context.Background(), NewEvent(EventActivate))
		require.ErrorIs(t, err, errSeed)
		assert.True(t, cancelled.Load(), "siblings see the failure")
	})
}

func TestEventResults(t *testing.T) {
	e := newActiveEnv(t, uaChrome)
	ctx := context.Background()

	ev := NewEvent(EventFetch)
	ev.Request = request(t, "https://app.test/index.html", "document")
	require.NoError(t, e.w.Dispatch(ctx, ev))
	require.NotNil(t, ev.Response())
	assert.Equal(t, "<h1>app</h1>", string(ev.Response().Body))

	ev = NewEvent(EventPush)
	require.NoError(t, e.w.Dispatch(ctx, ev))
	assert.Equal(t, 0, ev.Result())
}

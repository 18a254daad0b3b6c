package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus(t *testing.T) {
	ctx := context.Background()

	t.Run("DeliversInSubscriptionOrder", func(t *testing.T) {
		bus := NewMemoryBus()
		var got []string
		bus.Subscribe(ReelsStop, func(ctx context.Context, e Event) error {
			got = append(got, "first")
			return nil
		})
		bus.Subscribe(ReelsStop, func(ctx context.Context, e Event) error {
			got = append(got, "second")
			return nil
		})
		bus.SubscribeAll(func(ctx context.Context, e Event) error {
			got = append(got, "all:"+string(e.Type))
			return nil
		})

		require.NoError(t, bus.Publish(ctx, New(ReelsStop, 1, nil)))
		assert.Equal(t, []string{"first", "second", "all:REELS_STOP"}, got)
	})

	t.Run("OnlyMatchingType", func(t *testing.T) {
		bus := NewMemoryBus()
		called := false
		bus.Subscribe(WinStart, func(ctx context.Context, e Event) error {
			called = true
			return nil
		})

		require.NoError(t, bus.Publish(ctx, New(WinStop, 1, nil)))
		assert.False(t, called)
	})

	t.Run("JoinsHandlerErrors", func(t *testing.T) {
		bus := NewMemoryBus()
		boom := errors.New("boom")
		later := false
		bus.Subscribe(Spin, func(ctx context.Context, e Event) error { return boom })
		bus.Subscribe(Spin, func(ctx context.Context, e Event) error {
			later = true
			return nil
		})

		err := bus.Publish(ctx, New(Spin, 0, nil))
		assert.ErrorIs(t, err, boom)
		assert.True(t, later, "a failing handler must not stop later ones")
	})

	t.Run("StampsTime", func(t *testing.T) {
		bus := NewMemoryBus()
		var at Event
		bus.SubscribeAll(func(ctx context.Context, e Event) error {
			at = e
			return nil
		})
		require.NoError(t, bus.Publish(ctx, Event{Type: TurboOn}))
		assert.False(t, at.At.IsZero())
	})

	t.Run("HandlerMayPublish", func(t *testing.T) {
		bus := NewMemoryBus()
		var got []Type
		bus.Subscribe(WinDialogClosed, func(ctx context.Context, e Event) error {
			return bus.Publish(ctx, New(DialogAnimationsComplete, 0, nil))
		})
		bus.SubscribeAll(func(ctx context.Context, e Event) error {
			got = append(got, e.Type)
			return nil
		})

		require.NoError(t, bus.Publish(ctx, New(WinDialogClosed, 0, nil)))
		assert.Equal(t, []Type{DialogAnimationsComplete, WinDialogClosed}, got)
	})
}

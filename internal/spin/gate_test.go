package spin

import (
	"context"
	"testing"

	"github.com/alexbotov/spinflow/internal/control"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGamingSwitch(t *testing.T) {
	ctx := context.Background()

	t.Run("DisabledRejectsPaidSpins", func(t *testing.T) {
		h := newHarness(t, "100", Settings{})
		sw := control.New(nil, nil)
		h.o.gate = sw
		require.NoError(t, sw.DisableAllGaming(ctx, "maintenance", "ops"))

		_, err := h.o.Spin(ctx)
		assert.ErrorIs(t, err, control.ErrGamingDisabled)
		_, err = h.o.BuyFeature(ctx)
		assert.ErrorIs(t, err, control.ErrGamingDisabled)
		assert.ErrorIs(t, h.o.StartAutoplay(ctx, 5), control.ErrGamingDisabled)
		assert.Empty(t, h.backend.spins)
		assert.True(t, h.o.Wallet().Displayed().Equal(d("100")))

		require.NoError(t, sw.EnableAllGaming(ctx, "ops"))
		_, err = h.o.Spin(ctx)
		assert.NoError(t, err)
	})

	t.Run("DisableStopsAutoplay", func(t *testing.T) {
		h := newHarness(t, "100", Settings{})
		sw := control.New(nil, nil)
		sw.OnDisable(h.o.StopAutoplay)
		h.o.gate = sw

		require.NoError(t, h.o.StartAutoplay(ctx, 10))
		require.True(t, h.o.Autoplay().Active())

		require.NoError(t, sw.DisableAllGaming(ctx, "regulator", "ops"))
		assert.False(t, h.o.Autoplay().Active())
		assert.Equal(t, 1, h.count(event.AutoStop))
	})
}

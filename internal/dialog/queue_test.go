package dialog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alexbotov/spinflow/internal/clock"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/game"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shown struct {
	id     ID
	tier   game.Tier
	amount decimal.Decimal
}

type fakePresenter struct {
	shows        []shown
	closes       int
	otherVisible bool
	failNext     bool
}

func (p *fakePresenter) Show(ctx context.Context, id ID, tier game.Tier, amount decimal.Decimal) error {
	if p.failNext {
		p.failNext = false
		return errors.New("render failed")
	}
	p.shows = append(p.shows, shown{id: id, tier: tier, amount: amount})
	return nil
}

func (p *fakePresenter) IsShowing() bool { return p.otherVisible }

func (p *fakePresenter) Close(ctx context.Context) error {
	p.closes++
	return nil
}

func (p *fakePresenter) amounts() []string {
	var out []string
	for _, s := range p.shows {
		out = append(out, s.amount.String())
	}
	return out
}

func (p *fakePresenter) last() ID {
	if len(p.shows) == 0 {
		return 0
	}
	return p.shows[len(p.shows)-1].id
}

type harness struct {
	q      *Queue
	p      *fakePresenter
	clk    *clock.Manual
	events []event.Type
	auto   bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ev, err := game.NewEvaluator(game.DefaultThresholds())
	require.NoError(t, err)

	h := &harness{p: &fakePresenter{}, clk: clock.NewManual(time.Unix(0, 0))}
	bus := event.NewMemoryBus()
	bus.SubscribeAll(func(ctx context.Context, e event.Event) error {
		h.events = append(h.events, e.Type)
		return nil
	})
	h.q = New(h.p, ev, h.clk, bus, Options{
		AutoClose:       func() bool { return h.auto },
		AutoCloseDelay:  3 * time.Second,
		ReleaseInterval: 250 * time.Millisecond,
	})
	return h
}

func amt(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestPresent(t *testing.T) {
	ctx := context.Background()

	t.Run("SecondWinQueuedUntilClosed", func(t *testing.T) {
		h := newHarness(t)

		assert.Equal(t, Shown, h.q.Present(ctx, amt("25"), amt("1")))
		assert.Equal(t, Queued, h.q.Present(ctx, amt("40"), amt("1")))

		require.Len(t, h.p.shows, 1, "exactly one dialog visible")
		assert.Equal(t, game.TierBig, h.p.shows[0].tier)
		assert.Len(t, h.q.Pending(), 1)

		h.q.OnDialogClosed(ctx)
		require.Len(t, h.p.shows, 2)
		assert.Equal(t, game.TierMega, h.p.shows[1].tier)
		assert.Equal(t, []event.Type{event.WinDialogClosed}, h.events)

		h.q.OnDialogClosed(ctx)
		assert.False(t, h.q.IsShowing())
		assert.Equal(t, []event.Type{event.WinDialogClosed, event.WinDialogClosed, event.DialogAnimationsComplete}, h.events)
	})

	t.Run("FIFOOrderNeverDrops", func(t *testing.T) {
		h := newHarness(t)
		wins := []string{"20", "70", "35", "50", "21"}
		for _, w := range wins {
			h.q.Present(ctx, amt(w), amt("1"))
		}
		for range wins {
			h.q.OnDialogClosed(ctx)
		}
		assert.Equal(t, wins, h.p.amounts())
	})

	t.Run("BelowTier", func(t *testing.T) {
		h := newHarness(t)
		assert.Equal(t, BelowTier, h.q.Present(ctx, amt("5"), amt("1")))
		assert.Empty(t, h.p.shows)
		assert.False(t, h.q.IsShowing())
	})

	t.Run("OtherDialogVisible", func(t *testing.T) {
		h := newHarness(t)
		h.p.otherVisible = true
		assert.Equal(t, Queued, h.q.Present(ctx, amt("25"), amt("1")))
		assert.Empty(t, h.p.shows)

		h.clk.Advance(time.Second)
		assert.Empty(t, h.p.shows, "still waiting for the other dialog")

		h.p.otherVisible = false
		h.clk.Advance(250 * time.Millisecond)
		assert.Equal(t, []string{"25"}, h.p.amounts())
		assert.True(t, h.q.IsShowing())
		assert.Empty(t, h.q.Pending())
	})

	t.Run("OlderWinFirstAfterOtherDialog", func(t *testing.T) {
		h := newHarness(t)
		h.p.otherVisible = true
		assert.Equal(t, Queued, h.q.Present(ctx, amt("25"), amt("1")))

		h.p.otherVisible = false
		assert.Equal(t, Queued, h.q.Present(ctx, amt("50"), amt("1")))
		assert.Equal(t, []string{"25"}, h.p.amounts(), "the older win is shown first")
		require.Len(t, h.q.Pending(), 1)
		assert.True(t, h.q.Pending()[0].Payout.Equal(amt("50")))

		h.q.OnDialogClosed(ctx)
		assert.Equal(t, []string{"25", "50"}, h.p.amounts())

		h.clk.Advance(time.Second)
		assert.Len(t, h.p.shows, 2, "nothing shown twice")
	})

	t.Run("ShowFailureMovesOn", func(t *testing.T) {
		h := newHarness(t)
		h.p.failNext = true
		h.q.Present(ctx, amt("25"), amt("1"))

		assert.False(t, h.q.IsShowing())
		assert.Contains(t, h.events, event.DialogAnimationsComplete)
	})
}

func TestSuppression(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.q.SuppressUntilNextSpin()
	assert.Equal(t, Dropped, h.q.Present(ctx, amt("100"), amt("1")))
	assert.Empty(t, h.q.Pending())
	assert.Empty(t, h.p.shows)

	h.q.OnSpin()
	assert.False(t, h.q.Suppressed())
	assert.Equal(t, Shown, h.q.Present(ctx, amt("100"), amt("1")))

	t.Run("ResetBySpinEvent", func(t *testing.T) {
		h := newHarness(t)
		bus := event.NewMemoryBus()
		bus.Subscribe(event.Spin, h.q.HandleSpin)

		h.q.SuppressUntilNextSpin()
		require.NoError(t, bus.Publish(ctx, event.New(event.Spin, 0, nil)))
		assert.False(t, h.q.Suppressed())
	})
}

func TestAutoClose(t *testing.T) {
	ctx := context.Background()

	t.Run("AutoplayClosesAfterDelay", func(t *testing.T) {
		h := newHarness(t)
		h.auto = true

		h.q.Present(ctx, amt("25"), amt("1"))
		h.q.Present(ctx, amt("30"), amt("1"))

		h.clk.Advance(2999 * time.Millisecond)
		assert.Len(t, h.p.shows, 1)

		h.clk.Advance(time.Millisecond)
		assert.Len(t, h.p.shows, 2)
		assert.Equal(t, 1, h.p.closes)

		h.clk.Advance(3 * time.Second)
		assert.False(t, h.q.IsShowing())
		assert.Equal(t, 2, h.p.closes)
		assert.Equal(t, event.DialogAnimationsComplete, h.events[len(h.events)-1])
	})

	t.Run("ManualPlayWaitsForClick", func(t *testing.T) {
		h := newHarness(t)
		h.q.Present(ctx, amt("25"), amt("1"))

		h.clk.Advance(time.Hour)
		assert.True(t, h.q.IsShowing())
		assert.Equal(t, 0, h.p.closes)
	})

	t.Run("ManualCloseCancelsTimer", func(t *testing.T) {
		h := newHarness(t)
		h.auto = true
		h.q.Present(ctx, amt("25"), amt("1"))
		h.q.OnDialogClosed(ctx)

		h.q.Present(ctx, amt("30"), amt("1"))
		h.clk.Advance(3 * time.Second)
		// only the second dialog's timer closes anything
		assert.Equal(t, 1, h.p.closes)
		assert.False(t, h.q.IsShowing())
	})
}

func TestDuplicateCloseIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.q.OnDialogClosed(ctx)
	assert.Empty(t, h.events)

	h.q.Present(ctx, amt("25"), amt("1"))
	h.q.OnDialogClosed(ctx)
	h.q.OnDialogClosed(ctx)
	assert.Equal(t, []event.Type{event.WinDialogClosed, event.DialogAnimationsComplete}, h.events)
}

func TestDismiss(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.False(t, h.q.Dismiss(ctx, 1))
	assert.Equal(t, 0, h.p.closes, "nothing showing")

	h.q.Present(ctx, amt("25"), amt("1"))
	h.q.Present(ctx, amt("40"), amt("1"))
	first := h.p.last()
	assert.True(t, h.q.Dismiss(ctx, first))

	assert.Equal(t, 1, h.p.closes)
	assert.True(t, h.q.IsShowing(), "queued win shown next")
	assert.Equal(t, []string{"25", "40"}, h.p.amounts())

	current, ok := h.q.Current()
	require.True(t, ok)
	assert.NotEqual(t, first, current.ID)
	assert.Equal(t, current.ID, h.p.last())

	t.Run("RepeatedCloseKeepsNextDialog", func(t *testing.T) {
		h := newHarness(t)
		h.q.Present(ctx, amt("25"), amt("1"))
		h.q.Present(ctx, amt("40"), amt("1"))
		h.q.Present(ctx, amt("70"), amt("1"))

		first := h.p.last()
		assert.True(t, h.q.Dismiss(ctx, first))
		assert.False(t, h.q.Dismiss(ctx, first), "second close of the same dialog")

		assert.Equal(t, []string{"25", "40"}, h.p.amounts())
		assert.Equal(t, 1, h.p.closes)
		assert.Len(t, h.q.Pending(), 1)
		assert.True(t, h.q.IsShowing())
	})

	t.Run("CloseAfterAutoClose", func(t *testing.T) {
		h := newHarness(t)
		h.auto = true
		h.q.Present(ctx, amt("25"), amt("1"))
		h.q.Present(ctx, amt("40"), amt("1"))
		first := h.p.last()

		h.clk.Advance(3 * time.Second)
		require.Equal(t, []string{"25", "40"}, h.p.amounts())

		assert.False(t, h.q.Dismiss(ctx, first), "late click on the auto-closed dialog")
		assert.True(t, h.q.IsShowing(), "the next dialog stays up")
		assert.Equal(t, 1, h.p.closes)
	})
}

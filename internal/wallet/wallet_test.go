package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type recorder struct {
	events []event.Event
}

func (r *recorder) handle(ctx context.Context, e event.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) reasons() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.Payload.(event.BalancePayload).Reason)
	}
	return out
}

func setupReconciler(t *testing.T, initial string) (*Reconciler, *mockSource, *recorder) {
	t.Helper()

	src := &mockSource{}
	src.On("GetBalance", mock.Anything).Return(dec(initial), nil).Once()

	bus := event.NewMemoryBus()
	rec := &recorder{}
	bus.Subscribe(event.BalanceInit, rec.handle)
	bus.Subscribe(event.BalanceUpdate, rec.handle)

	r := New(src, bus, audit.Discard{})
	require.NoError(t, r.Init(context.Background()))
	return r, src, rec
}

func TestInit(t *testing.T) {
	r, src, rec := setupReconciler(t, "100")

	assert.True(t, r.Displayed().Equal(dec("100")))
	require.Len(t, rec.events, 1)
	assert.Equal(t, event.BalanceInit, rec.events[0].Type)
	src.AssertExpectations(t)
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("Subtracts", func(t *testing.T) {
		r, _, rec := setupReconciler(t, "10")
		require.NoError(t, r.Debit(ctx, dec("2.5")))
		assert.True(t, r.Displayed().Equal(dec("7.5")))
		assert.Equal(t, []string{ReasonInit, ReasonDebit}, rec.reasons())
	})

	t.Run("NeverNegative", func(t *testing.T) {
		r, _, _ := setupReconciler(t, "10")
		err := r.Debit(ctx, dec("20"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.True(t, r.Displayed().Equal(dec("10")))
	})

	t.Run("ExactBalance", func(t *testing.T) {
		r, _, _ := setupReconciler(t, "10")
		require.NoError(t, r.Debit(ctx, dec("10")))
		assert.True(t, r.Displayed().IsZero())
	})

	t.Run("RejectsNonPositive", func(t *testing.T) {
		r, _, _ := setupReconciler(t, "10")
		assert.ErrorIs(t, r.Debit(ctx, decimal.Zero), ErrInvalidAmount)
	})
}

func TestCreditAfterSettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("OnlyAfterReelsStop", func(t *testing.T) {
		r, _, rec := setupReconciler(t, "10")
		require.NoError(t, r.Debit(ctx, dec("1")))
		r.CreditAfterSettlement(1, dec("25"))

		assert.True(t, r.Displayed().Equal(dec("9")), "credit must wait for REELS_STOP")
		require.NotNil(t, r.State().PendingCredit)

		assert.True(t, r.Settle(ctx, 1))
		assert.True(t, r.Displayed().Equal(dec("34")))
		assert.Equal(t, []string{ReasonInit, ReasonDebit, ReasonWin}, rec.reasons())
	})

	t.Run("DuplicateReelsStop", func(t *testing.T) {
		r, _, _ := setupReconciler(t, "10")
		r.CreditAfterSettlement(1, dec("5"))

		assert.True(t, r.Settle(ctx, 1))
		assert.False(t, r.Settle(ctx, 1))
		assert.True(t, r.Displayed().Equal(dec("15")))
	})

	t.Run("StaleSession", func(t *testing.T) {
		r, _, _ := setupReconciler(t, "10")
		r.CreditAfterSettlement(2, dec("5"))

		assert.False(t, r.Settle(ctx, 1))
		assert.True(t, r.Displayed().Equal(dec("10")))
	})

	t.Run("ZeroWinRegistersNothing", func(t *testing.T) {
		r, _, _ := setupReconciler(t, "10")
		r.CreditAfterSettlement(1, decimal.Zero)
		assert.Nil(t, r.State().PendingCredit)
		assert.False(t, r.Settle(ctx, 1))
	})

	t.Run("ViaEventBus", func(t *testing.T) {
		r, _, _ := setupReconciler(t, "10")
		bus := event.NewMemoryBus()
		bus.Subscribe(event.ReelsStop, r.HandleReelsStop)

		r.CreditAfterSettlement(3, dec("1"))
		require.NoError(t, bus.Publish(ctx, event.New(event.ReelsStop, 3, nil)))
		require.NoError(t, bus.Publish(ctx, event.New(event.ReelsStop, 3, nil)))
		assert.True(t, r.Displayed().Equal(dec("11")))
	})
}

func TestBonusDeferral(t *testing.T) {
	ctx := context.Background()
	r, _, rec := setupReconciler(t, "100")

	r.BeginBonus()
	for i, win := range []string{"2", "0", "3.5", "10"} {
		id := uint64(i + 1)
		r.CreditAfterSettlement(sessionID(id), dec(win))
		r.Settle(ctx, sessionID(id))
	}

	assert.True(t, r.Displayed().Equal(dec("100")), "bonus wins must not reach the balance before the round ends")
	assert.True(t, r.State().DeferredBonus.Equal(dec("15.5")))

	total := r.FlushBonus(ctx)
	assert.True(t, total.Equal(dec("15.5")))
	assert.True(t, r.Displayed().Equal(dec("115.5")))
	assert.False(t, r.InBonus())
	assert.Equal(t, []string{ReasonInit, ReasonBonus}, rec.reasons(), "one lump credit")

	t.Run("EmptyFlush", func(t *testing.T) {
		r.BeginBonus()
		assert.True(t, r.FlushBonus(ctx).IsZero())
		assert.Len(t, rec.events, 2)
	})
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("ServerIsGroundTruth", func(t *testing.T) {
		r, src, rec := setupReconciler(t, "10")
		require.NoError(t, r.Debit(ctx, dec("1")))
		src.On("GetBalance", mock.Anything).Return(dec("8"), nil).Once()

		require.NoError(t, r.Reconcile(ctx))
		assert.True(t, r.Displayed().Equal(dec("8")))
		assert.Equal(t, ReasonReconcile, rec.reasons()[len(rec.events)-1])
	})

	t.Run("NoEventWhenEqual", func(t *testing.T) {
		r, src, rec := setupReconciler(t, "10")
		src.On("GetBalance", mock.Anything).Return(dec("10"), nil).Once()

		require.NoError(t, r.Reconcile(ctx))
		assert.Len(t, rec.events, 1)
	})

	t.Run("DeferredInBonus", func(t *testing.T) {
		r, src, _ := setupReconciler(t, "10")
		r.BeginBonus()

		assert.ErrorIs(t, r.Reconcile(ctx), ErrReconcileDeferred)
		src.AssertNumberOfCalls(t, "GetBalance", 1)
	})

	t.Run("DeferredWithPendingCredit", func(t *testing.T) {
		r, _, _ := setupReconciler(t, "10")
		r.CreditAfterSettlement(1, dec("1"))
		assert.ErrorIs(t, r.Reconcile(ctx), ErrReconcileDeferred)
	})

	t.Run("SourceError", func(t *testing.T) {
		r, src, _ := setupReconciler(t, "10")
		src.On("GetBalance", mock.Anything).Return(decimal.Zero, errors.New("down")).Once()

		assert.Error(t, r.Reconcile(ctx))
		assert.True(t, r.Displayed().Equal(dec("10")))
	})

	t.Run("NegativeServerClamped", func(t *testing.T) {
		r, src, _ := setupReconciler(t, "10")
		src.On("GetBalance", mock.Anything).Return(dec("-3"), nil).Once()

		require.NoError(t, r.Reconcile(ctx))
		assert.True(t, r.Displayed().IsZero())
	})
}

func sessionID(v uint64) session.ID {
	return session.ID(v)
}

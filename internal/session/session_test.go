package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	t.Run("IDsAreMonotonic", func(t *testing.T) {
		tr := NewTracker()
		a := tr.Open("")
		b := tr.Open("")
		assert.Equal(t, ID(1), a.ID)
		assert.Equal(t, ID(2), b.ID)
		assert.Greater(t, b.Sequence, a.Sequence)
		assert.NotEmpty(t, a.RoundID)
	})

	t.Run("KeepsBackendRoundID", func(t *testing.T) {
		tr := NewTracker()
		s := tr.Open("round-42")
		assert.Equal(t, "round-42", s.RoundID)
	})

	t.Run("SingleActiveSession", func(t *testing.T) {
		tr := NewTracker()
		a := tr.Open("")
		b := tr.Open("")

		assert.False(t, tr.IsActive(a.ID))
		assert.True(t, tr.IsActive(b.ID))

		active, ok := tr.Active()
		require.True(t, ok)
		assert.Equal(t, b.ID, active.ID)
	})

	t.Run("CloseOnlyOnce", func(t *testing.T) {
		tr := NewTracker()
		s := tr.Open("")

		assert.True(t, tr.Close(s.ID))
		assert.False(t, tr.Close(s.ID), "second close must be rejected")

		_, ok := tr.Active()
		assert.False(t, ok)
	})

	t.Run("StaleClose", func(t *testing.T) {
		tr := NewTracker()
		old := tr.Open("")
		cur := tr.Open("")

		assert.False(t, tr.Close(old.ID))
		assert.True(t, tr.IsActive(cur.ID))
	})
}

func TestMarker(t *testing.T) {
	var m Marker

	assert.True(t, m.Claim(1))
	assert.False(t, m.Claim(1), "duplicate claim")
	assert.True(t, m.Claim(2))
	assert.False(t, m.Claim(1), "older id")
	assert.False(t, m.Claim(0), "zero id is never valid")
	assert.Equal(t, ID(2), m.Last())
}

func TestSessionValid(t *testing.T) {
	assert.False(t, Session{}.Valid())
	assert.True(t, NewTracker().Open("").Valid())
}

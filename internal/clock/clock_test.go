package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("FiresInDueOrder", func(t *testing.T) {
		c := NewManual(start)
		var order []int
		c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
		c.AfterFunc(1*time.Second, func() { order = append(order, 1) })

		c.Advance(500 * time.Millisecond)
		assert.Empty(t, order)

		c.Advance(2 * time.Second)
		assert.Equal(t, []int{1, 2}, order)
		assert.Equal(t, start.Add(2500*time.Millisecond), c.Now())
	})

	t.Run("StopPreventsFiring", func(t *testing.T) {
		c := NewManual(start)
		fired := false
		tm := c.AfterFunc(time.Second, func() { fired = true })

		assert.True(t, tm.Stop())
		assert.False(t, tm.Stop())
		c.Advance(time.Minute)
		assert.False(t, fired)
		assert.Equal(t, 0, c.Pending())
	})

	t.Run("NestedSchedulingInsideWindow", func(t *testing.T) {
		c := NewManual(start)
		count := 0
		c.AfterFunc(time.Second, func() {
			count++
			c.AfterFunc(time.Second, func() { count++ })
		})

		c.Advance(3 * time.Second)
		assert.Equal(t, 2, count)
	})
}

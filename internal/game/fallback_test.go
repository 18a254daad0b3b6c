package game

import (
	"testing"

	"github.com/alexbotov/spinflow/internal/rng"
)

func testLayout() Layout {
	return Layout{
		Rows:           5,
		Cols:           6,
		Symbols:        []int{1, 2, 3, 4, 5, 6, 7, 8, 9},
		Scatter:        0,
		MinCluster:     8,
		ScatterTrigger: 4,
	}
}

func TestFallbackGenerator(t *testing.T) {
	g, err := NewFallbackGenerator(testLayout(), rng.New())
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}

	t.Run("GridIsWinFree", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			res, err := g.Generate()
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if !res.Fallback {
				t.Error("Expected result to be marked as fallback")
			}
			if !res.TotalWin.IsZero() {
				t.Errorf("Expected zero win, got %s", res.TotalWin)
			}
			if res.Grid.Rows() != 5 || res.Grid.Cols() != 6 {
				t.Fatalf("Expected 5x6 grid, got %dx%d", res.Grid.Rows(), res.Grid.Cols())
			}
			for _, s := range testLayout().Symbols {
				if n := res.Grid.Count(s); n >= 8 {
					t.Errorf("Symbol %d appears %d times, a paying cluster", s, n)
				}
			}
			if n := res.Grid.Count(0); n >= 4 {
				t.Errorf("Scatter appears %d times, a bonus trigger", n)
			}
			if res.ScatterTriggered() {
				t.Error("Fallback must never trigger a bonus")
			}
		}
	})
}

func TestNewFallbackGeneratorValidation(t *testing.T) {
	t.Run("TooFewSymbols", func(t *testing.T) {
		l := testLayout()
		l.Symbols = []int{1, 2}
		if _, err := NewFallbackGenerator(l, rng.New()); err != ErrGridTooSmall {
			t.Errorf("Expected ErrGridTooSmall, got %v", err)
		}
	})

	t.Run("ScatterListedAsSymbol", func(t *testing.T) {
		l := testLayout()
		l.Symbols = append(l.Symbols, l.Scatter)
		if _, err := NewFallbackGenerator(l, rng.New()); err == nil {
			t.Error("Expected error when scatter is a paying symbol")
		}
	})

	t.Run("BadShape", func(t *testing.T) {
		l := testLayout()
		l.Rows = 0
		if _, err := NewFallbackGenerator(l, rng.New()); err == nil {
			t.Error("Expected error for zero rows")
		}
	})
}

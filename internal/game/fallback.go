package game

import (
	"errors"
	"fmt"

	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/rng"
	"github.com/shopspring/decimal"
)

var ErrGridTooSmall = errors.New("symbol set cannot fill the grid without a win")

// Layout describes the grid and symbol set of a game
type Layout struct {
	Rows    int
	Cols    int
	Symbols []int
	Scatter int
	// MinCluster is the smallest count of one symbol that pays
	MinCluster int
	// ScatterTrigger is the scatter count that starts the bonus
	ScatterTrigger int
}

// FallbackGenerator produces win-free grids for when the backend is down
type FallbackGenerator struct {
	layout Layout
	rng    *rng.Service
}

// NewFallbackGenerator checks that layout can be filled without a win
func NewFallbackGenerator(layout Layout, r *rng.Service) (*FallbackGenerator, error) {
	if layout.Rows <= 0 || layout.Cols <= 0 || len(layout.Symbols) == 0 {
		return nil, fmt.Errorf("invalid layout %dx%d with %d symbols", layout.Rows, layout.Cols, len(layout.Symbols))
	}
	for _, s := range layout.Symbols {
		if s == layout.Scatter {
			return nil, fmt.Errorf("scatter symbol %d must not be listed as a paying symbol", s)
		}
	}
	if layout.MinCluster < 2 {
		return nil, fmt.Errorf("min cluster must be at least 2, got %d", layout.MinCluster)
	}
	capacity := (layout.MinCluster - 1) * len(layout.Symbols)
	if layout.ScatterTrigger > 1 {
		capacity += layout.ScatterTrigger - 1
	}
	if capacity < layout.Rows*layout.Cols {
		return nil, ErrGridTooSmall
	}
	return &FallbackGenerator{layout: layout, rng: r}, nil
}

// Generate returns a result whose grid holds fewer than MinCluster of every
// paying symbol and fewer than ScatterTrigger scatters
func (g *FallbackGenerator) Generate() (*domain.SpinResult, error) {
	l := g.layout
	counts := make(map[int]int, len(l.Symbols)+1)

	grid := make(domain.Grid, l.Rows)
	candidates := make([]int, 0, len(l.Symbols)+1)
	for r := 0; r < l.Rows; r++ {
		grid[r] = make([]int, l.Cols)
		for c := 0; c < l.Cols; c++ {
			candidates = candidates[:0]
			for _, s := range l.Symbols {
				if counts[s] < l.MinCluster-1 {
					candidates = append(candidates, s)
				}
			}
			if l.ScatterTrigger > 1 && counts[l.Scatter] < l.ScatterTrigger-1 {
				candidates = append(candidates, l.Scatter)
			}

			n, err := g.rng.GenerateInt(int64(len(candidates)))
			if err != nil {
				return nil, fmt.Errorf("failed to draw fallback symbol: %w", err)
			}
			s := candidates[n]
			counts[s]++
			grid[r][c] = s
		}
	}

	return &domain.SpinResult{
		TotalWin: decimal.Zero,
		Grid:     grid,
		Fallback: true,
	}, nil
}

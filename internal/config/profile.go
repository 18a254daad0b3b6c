package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alexbotov/spinflow/internal/game"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Profile is the per-game data the engine is parameterised with. Both games
// share the engine and differ only in their profile.
type Profile struct {
	Name           string        `yaml:"name"`
	Grid           GridProfile   `yaml:"grid"`
	Symbols        []int         `yaml:"symbols"`
	Scatter        int           `yaml:"scatter"`
	MinCluster     int           `yaml:"min_cluster"`
	ScatterTrigger int           `yaml:"scatter_trigger"`
	Tiers          TierMultiples `yaml:"tiers"`
	DefaultBet     float64       `yaml:"default_bet"`
	BetLevels      []float64     `yaml:"bet_levels"`
	Reels          ReelTimings   `yaml:"reels"`
}

type GridProfile struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// TierMultiples are win dialog thresholds as bet multiples
type TierMultiples struct {
	Big   float64 `yaml:"big"`
	Mega  float64 `yaml:"mega"`
	Epic  float64 `yaml:"epic"`
	Super float64 `yaml:"super"`
}

// ReelTimings are the base reel animation durations before turbo scaling
type ReelTimings struct {
	Spin time.Duration `yaml:"spin"`
	Stop time.Duration `yaml:"stop"`
}

// DefaultProfile is a 5x6 tumble game with symbols 1-9 and scatter 10
func DefaultProfile() *Profile {
	return &Profile{
		Name:           "default",
		Grid:           GridProfile{Rows: 5, Cols: 6},
		Symbols:        []int{1, 2, 3, 4, 5, 6, 7, 8, 9},
		Scatter:        10,
		MinCluster:     8,
		ScatterTrigger: 4,
		Tiers:          TierMultiples{Big: 20, Mega: 30, Epic: 45, Super: 60},
		DefaultBet:     1,
		BetLevels:      []float64{0.2, 0.5, 1, 2, 5, 10, 20, 50, 100},
		Reels:          ReelTimings{Spin: time.Second, Stop: 500 * time.Millisecond},
	}
}

// LoadProfile reads a YAML profile. Keys missing from the file keep their
// default values; an empty path returns the default profile.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the profile
func (p *Profile) Validate() error {
	if p.Grid.Rows <= 0 || p.Grid.Cols <= 0 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", p.Grid.Rows, p.Grid.Cols)
	}
	if len(p.Symbols) == 0 {
		return errors.New("symbols must not be empty")
	}
	if p.DefaultBet <= 0 {
		return errors.New("default_bet must be > 0")
	}
	if len(p.BetLevels) > 0 {
		found := false
		for _, b := range p.BetLevels {
			if b <= 0 {
				return fmt.Errorf("bet level %v must be > 0", b)
			}
			if b == p.DefaultBet {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("default_bet %v is not one of bet_levels", p.DefaultBet)
		}
	}
	if p.Reels.Spin < 0 || p.Reels.Stop < 0 {
		return errors.New("reel timings must be >= 0")
	}
	if _, err := game.NewEvaluator(p.Thresholds()); err != nil {
		return fmt.Errorf("tiers: %w", err)
	}
	return nil
}

// Layout returns the grid layout used by the offline fallback generator
func (p *Profile) Layout() game.Layout {
	return game.Layout{
		Rows:           p.Grid.Rows,
		Cols:           p.Grid.Cols,
		Symbols:        append([]int(nil), p.Symbols...),
		Scatter:        p.Scatter,
		MinCluster:     p.MinCluster,
		ScatterTrigger: p.ScatterTrigger,
	}
}

// Thresholds returns the win tiers in ascending order
func (p *Profile) Thresholds() []game.Threshold {
	return []game.Threshold{
		{Tier: game.TierBig, Multiple: decimal.NewFromFloat(p.Tiers.Big)},
		{Tier: game.TierMega, Multiple: decimal.NewFromFloat(p.Tiers.Mega)},
		{Tier: game.TierEpic, Multiple: decimal.NewFromFloat(p.Tiers.Epic)},
		{Tier: game.TierSuper, Multiple: decimal.NewFromFloat(p.Tiers.Super)},
	}
}

// Bets returns the default bet and the allowed bet levels
func (p *Profile) Bets() (decimal.Decimal, []decimal.Decimal) {
	levels := make([]decimal.Decimal, 0, len(p.BetLevels))
	for _, b := range p.BetLevels {
		levels = append(levels, decimal.NewFromFloat(b))
	}
	return decimal.NewFromFloat(p.DefaultBet), levels
}

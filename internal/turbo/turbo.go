// Package turbo scales animation and scheduling delays by the turbo factor.
package turbo

import (
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultFactor halves every scaled duration
const DefaultFactor = 0.5

// Effective returns base when turbo is off and base*k when it is on
func Effective(base time.Duration, on bool, k float64) time.Duration {
	if !on {
		return base
	}
	return time.Duration(float64(base) * k)
}

// Scaler holds the turbo flag. The factor is fixed at construction so that
// toggling turbo off always restores the base timings exactly.
type Scaler struct {
	factor float64
	on     atomic.Bool
}

// New creates a scaler with factor k, which must be in (0, 1]
func New(k float64) (*Scaler, error) {
	if k <= 0 || k > 1 {
		return nil, fmt.Errorf("turbo factor must be in (0, 1], got %v", k)
	}
	return &Scaler{factor: k}, nil
}

// Scale returns the effective duration for base
func (s *Scaler) Scale(base time.Duration) time.Duration {
	return Effective(base, s.on.Load(), s.factor)
}

// SetTurbo switches turbo and reports whether the value changed
func (s *Scaler) SetTurbo(on bool) bool {
	return s.on.Swap(on) != on
}

// Enabled reports whether turbo is on
func (s *Scaler) Enabled() bool {
	return s.on.Load()
}

// Factor returns k
func (s *Scaler) Factor() float64 {
	return s.factor
}

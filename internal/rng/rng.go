// Package rng provides the entropy source for locally generated grids.
//
// The backend owns outcome fairness; this service is only used for the
// offline fallback grid, but it still draws from crypto/rand without
// modulo bias.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Service draws unbiased integers from an entropy source
type Service struct {
	entropy io.Reader
	mu      sync.Mutex

	samples int64
}

// New creates a service backed by crypto/rand
func New() *Service {
	return NewWithReader(rand.Reader)
}

// NewWithReader creates a service backed by r. Tests pass a deterministic reader.
func NewWithReader(r io.Reader) *Service {
	return &Service{entropy: r}
}

// GenerateInt returns a random integer in range [0, max)
// Uses rejection sampling to eliminate modulo bias
func (s *Service) GenerateInt(max int64) (int64, error) {
	if max <= 0 {
		return 0, fmt.Errorf("max must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := uint64(1<<63-1) - (uint64(1<<63-1) % uint64(max))

	buf := make([]byte, 8)
	for {
		if _, err := io.ReadFull(s.entropy, buf); err != nil {
			return 0, fmt.Errorf("failed to generate random int: %w", err)
		}

		n := binary.BigEndian.Uint64(buf) >> 1
		if n < threshold {
			s.samples++
			return int64(n % uint64(max)), nil
		}
	}
}

// Samples returns how many integers have been drawn
func (s *Service) Samples() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

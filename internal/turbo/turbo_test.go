package turbo

import (
	"testing"
	"time"
)

func TestEffective(t *testing.T) {
	base := 1200 * time.Millisecond

	if got := Effective(base, false, 0.5); got != base {
		t.Errorf("Expected base %v with turbo off, got %v", base, got)
	}
	if got := Effective(base, true, 0.5); got != 600*time.Millisecond {
		t.Errorf("Expected 600ms with turbo on, got %v", got)
	}
	if got := Effective(base, true, 1); got != base {
		t.Errorf("Factor 1 must be identity, got %v", got)
	}
}

func TestScaler(t *testing.T) {
	s, err := New(0.25)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Run("Multiplicative", func(t *testing.T) {
		s.SetTurbo(true)
		for _, base := range []time.Duration{0, 100 * time.Millisecond, time.Second, 3 * time.Second} {
			want := time.Duration(float64(base) * 0.25)
			if got := s.Scale(base); got != want {
				t.Errorf("Scale(%v) = %v, want %v", base, got, want)
			}
		}
	})

	t.Run("ToggleRestoresBase", func(t *testing.T) {
		base := 1500 * time.Millisecond
		s.SetTurbo(true)
		_ = s.Scale(base)
		s.SetTurbo(false)
		if got := s.Scale(base); got != base {
			t.Errorf("Expected base %v after toggling off, got %v", base, got)
		}
	})

	t.Run("SetTurboReportsChange", func(t *testing.T) {
		s.SetTurbo(false)
		if !s.SetTurbo(true) {
			t.Error("Expected change on first enable")
		}
		if s.SetTurbo(true) {
			t.Error("Expected no change on repeated enable")
		}
		if !s.Enabled() {
			t.Error("Expected turbo enabled")
		}
	})
}

func TestNewRejectsBadFactor(t *testing.T) {
	for _, k := range []float64{0, -1, 1.5} {
		if _, err := New(k); err == nil {
			t.Errorf("Expected error for factor %v", k)
		}
	}
}

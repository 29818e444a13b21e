package connection

import (
	"testing"
	"time"
)

func TestBackoff_PreJitterDelay(t *testing.T) {
	b := backoff{base: 1000 * time.Millisecond, max: 30000 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{3, 8000 * time.Millisecond},
		{4, 16000 * time.Millisecond},
		{5, 30000 * time.Millisecond}, // 32000 capped
		{6, 30000 * time.Millisecond}, // min(1000*2^6, 30000)
		{20, 30000 * time.Millisecond},
	}

	for _, tt := range tests {
		got := b.preJitterDelay(tt.attempt)
		if got != tt.want {
			t.Errorf("preJitterDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_Monotonic(t *testing.T) {
	b := backoff{base: 250 * time.Millisecond, max: 10 * time.Second}

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := b.preJitterDelay(attempt)
		if d < prev {
			t.Errorf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoff_JitterBand(t *testing.T) {
	b := backoff{base: time.Second, max: 30 * time.Second}

	for attempt := 0; attempt < 8; attempt++ {
		pre := b.preJitterDelay(attempt)
		lo := time.Duration(float64(pre) * 0.8)
		hi := time.Duration(float64(pre) * 1.2)

		for i := 0; i < 50; i++ {
			d := b.delay(attempt)
			if d < lo || d > hi {
				t.Fatalf("delay(%d) = %v outside jitter band [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoff_NegativeAttempt(t *testing.T) {
	b := backoff{base: time.Second, max: 30 * time.Second}
	if got := b.preJitterDelay(-3); got != time.Second {
		t.Errorf("preJitterDelay(-3) = %v, want %v", got, time.Second)
	}
}

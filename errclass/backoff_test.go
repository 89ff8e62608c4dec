package errclass

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelay_Exponential(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 200 * time.Millisecond

	t.Run("jittered doubling", func(t *testing.T) {
		for attempt := 0; attempt < 5; attempt++ {
			raw := base << uint(attempt)
			d := Delay(StrategyExponential, attempt, base, rng)
			lo := raw + raw/10
			hi := raw + raw*3/10 + time.Millisecond
			if d < lo || d > hi {
				t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	})

	t.Run("caps at 60s before jitter", func(t *testing.T) {
		d := Delay(StrategyExponential, 30, base, rng)
		max := 60*time.Second + 60*time.Second*3/10 + time.Millisecond
		if d > max {
			t.Errorf("delay %v exceeds jittered cap %v", d, max)
		}
		if d < 60*time.Second {
			t.Errorf("capped delay %v below 60s", d)
		}
	})

	t.Run("nil rng works", func(t *testing.T) {
		d := Delay(StrategyExponential, 0, base, nil)
		if d < base {
			t.Errorf("expected at least base delay, got %v", d)
		}
	})
}

func TestDelay_Linear(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 0; attempt < 4; attempt++ {
		want := base * time.Duration(attempt+1)
		if d := Delay(StrategyLinear, attempt, base, nil); d != want {
			t.Errorf("attempt %d: delay %v, want %v", attempt, d, want)
		}
	}
}

func TestDelay_None(t *testing.T) {
	if d := Delay(StrategyNone, 2, time.Second, nil); d != 0 {
		t.Errorf("expected zero delay, got %v", d)
	}
}

func TestDelay_DefaultBase(t *testing.T) {
	// A non-positive base falls back to 500ms.
	d := Delay(StrategyLinear, 0, 0, nil)
	if d != 500*time.Millisecond {
		t.Errorf("expected 500ms default base, got %v", d)
	}
}

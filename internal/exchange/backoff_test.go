package exchange

import (
	"testing"
	"time"
)

func TestBackoffDuration_CapsAtCeiling(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 4 * time.Second, Jitter: 0}
	d := b.Duration(10)
	if d != 4*time.Second {
		t.Fatalf("duration = %v, want capped at %v", d, 4*time.Second)
	}
}

func TestBackoffDuration_GrowsExponentially(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 100 * time.Second, Jitter: 0}
	d0 := b.Duration(0)
	d1 := b.Duration(1)
	d2 := b.Duration(2)
	if d0 != time.Second {
		t.Fatalf("duration(0) = %v, want 1s", d0)
	}
	if d1 != 2*time.Second {
		t.Fatalf("duration(1) = %v, want 2s", d1)
	}
	if d2 != 4*time.Second {
		t.Fatalf("duration(2) = %v, want 4s", d2)
	}
}

func TestBackoffDuration_JitterStaysWithinRange(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 100 * time.Second, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := b.Duration(3)
		base := float64(8 * time.Second)
		if float64(d) < base*0.8 || float64(d) > base*1.2 {
			t.Fatalf("duration out of jitter range: %v", d)
		}
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateStreaming:  "streaming",
		StateDegraded:   "degraded",
		StateClosed:     "closed",
		State(99):       "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

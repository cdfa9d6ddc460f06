package heartbeat

import (
	"testing"
	"time"
)

func TestTickerFiresOnInterval(t *testing.T) {
	tk := NewTicker(1)
	base := time.Now()

	if tk.Due(base) {
		t.Fatal("first call should arm the clock, not fire immediately")
	}
	if tk.Due(base.Add(500 * time.Millisecond)) {
		t.Fatal("should not fire before the interval elapses")
	}
	if !tk.Due(base.Add(1100 * time.Millisecond)) {
		t.Fatal("should fire once the interval elapses")
	}
	if tk.Fires() != 1 {
		t.Errorf("Fires() = %d, want 1", tk.Fires())
	}
}

func TestTickerDisabledAtZero(t *testing.T) {
	tk := NewTicker(0)
	if tk.Due(time.Now()) {
		t.Fatal("interval 0 should never fire")
	}
}

func TestThrottleGatesWrites(t *testing.T) {
	th := NewThrottle(1000) // 1ms
	now := time.Now()

	if !th.Ready(now) {
		t.Fatal("throttle should be ready before any write")
	}
	th.MarkSent(now)
	if th.Ready(now) {
		t.Fatal("throttle should not be ready immediately after a write")
	}
	if !th.Ready(now.Add(2 * time.Millisecond)) {
		t.Fatal("throttle should be ready after the pacing window elapses")
	}
}

func TestThrottleDisabledAtZero(t *testing.T) {
	th := NewThrottle(0)
	now := time.Now()
	th.MarkSent(now)
	if !th.Ready(now) {
		t.Fatal("throttle interval 0 should always be ready")
	}
}

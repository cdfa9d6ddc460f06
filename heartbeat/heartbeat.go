// Package heartbeat drives the periodic zero-payload keepalive packet and
// the outbound throttle pacing gate the engine consults before every
// observatory-data write.
package heartbeat

import "time"

// Ticker fires due() true once per heartbeat_interval seconds. It is
// polled from the engine tick loop rather than driving its own goroutine,
// matching the engine's single-threaded cooperative model.
type Ticker struct {
	interval time.Duration
	last     time.Time
	fires    int64
}

// NewTicker constructs a ticker for the given interval in seconds. An
// interval of 0 disables heartbeat emission (Due always returns false).
func NewTicker(intervalSeconds int) *Ticker {
	t := &Ticker{}
	t.SetInterval(intervalSeconds)
	return t
}

// SetInterval reconfigures the interval without resetting the fire count.
func (t *Ticker) SetInterval(intervalSeconds int) {
	if intervalSeconds <= 0 {
		t.interval = 0
		return
	}
	t.interval = time.Duration(intervalSeconds) * time.Second
}

// Due reports whether a heartbeat is due, given now, and advances the
// internal clock if so.
func (t *Ticker) Due(now time.Time) bool {
	if t.interval == 0 {
		return false
	}
	if t.last.IsZero() {
		t.last = now
	}
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	t.fires++
	return true
}

// Fires returns the cumulative count of heartbeats emitted, surfaced on
// the health/metrics snapshot.
func (t *Ticker) Fires() int64 {
	return t.fires
}

// Throttle gates outbound observatory-data writes to at least
// output_throttle microseconds apart. It never coalesces or reorders
// writes, only delays the next one.
type Throttle struct {
	interval time.Duration
	nextOK   time.Time
}

// NewThrottle constructs a throttle for the given pacing interval in
// microseconds. Zero disables pacing (Ready always true).
func NewThrottle(microseconds int) *Throttle {
	th := &Throttle{}
	th.SetInterval(microseconds)
	return th
}

// SetInterval reconfigures the pacing interval.
func (th *Throttle) SetInterval(microseconds int) {
	if microseconds <= 0 {
		th.interval = 0
		return
	}
	th.interval = time.Duration(microseconds) * time.Microsecond
}

// Ready reports whether an observatory-data write may proceed now.
func (th *Throttle) Ready(now time.Time) bool {
	if th.interval == 0 {
		return true
	}
	return !now.Before(th.nextOK)
}

// MarkSent records that a write just happened, arming the pacing window
// for the next one.
func (th *Throttle) MarkSent(now time.Time) {
	if th.interval == 0 {
		return
	}
	th.nextOK = now.Add(th.interval)
}

package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a minimum interval between successive requests. It is a
// rate.Limiter with a burst of one, so a caller that has been idle gets one
// immediate request and never a burst.
type Gate struct {
	interval time.Duration
	lim      *rate.Limiter
	now      func() time.Time // for testing
}

// NewGate returns a gate spacing calls at least interval apart. A zero or
// negative interval disables gating.
func NewGate(interval time.Duration) *Gate {
	g := &Gate{interval: interval, now: time.Now}
	if interval > 0 {
		g.lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return g
}

// Interval returns the configured minimum interval.
func (g *Gate) Interval() time.Duration { return g.interval }

// reserve claims the next slot and returns how long the caller must wait.
func (g *Gate) reserve() (*rate.Reservation, time.Duration) {
	now := g.now()
	r := g.lim.ReserveN(now, 1)
	return r, r.DelayFrom(now)
}

// Wait blocks until the next request slot is available or ctx is done.
// A cancelled wait gives the slot back.
func (g *Gate) Wait(ctx context.Context) error {
	if g == nil || g.lim == nil {
		return nil
	}
	r, d := g.reserve()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.CancelAt(g.now())
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

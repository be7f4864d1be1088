// Package reconnect holds the client-side reconnection policy. It is
// pure arithmetic, deliberately independent of any transport, so
// clients embed it next to their dialer and tests never need a socket.
package reconnect

import "time"

// Policy computes backoff delays for reconnection attempts.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	Multiplier  float64
}

// Default mirrors the tuning the web client shipped with: 1s base,
// doubling, capped at 30s, give up after 10 tries.
func Default() Policy {
	return Policy{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 10,
		Multiplier:  2,
	}
}

// Delay returns the wait before reconnection attempt n (1-based) and
// whether the attempt should be made at all.
func (p Policy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || (p.MaxAttempts > 0 && attempt > p.MaxAttempts) {
		return 0, false
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = 24 * time.Hour
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if d >= ceiling {
			d = ceiling
			break
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d, true
}

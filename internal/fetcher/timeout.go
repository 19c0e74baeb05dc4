package fetcher

import (
	"strings"
	"time"
)

// TimeoutPolicy decides the navigation deadline for one fetch attempt.
// Implementations may grow the deadline on retries or stretch it for
// hosts known to be slow.
type TimeoutPolicy interface {
	Timeout(host string, attempt int) time.Duration
}

// AdaptiveTimeout is the default policy: a base deadline that grows
// linearly per attempt, capped at Max, with optional per-host-suffix
// multipliers for slow origins.
type AdaptiveTimeout struct {
	Base      time.Duration
	Step      time.Duration
	Max       time.Duration
	SlowHosts map[string]float64
}

func DefaultTimeoutPolicy() *AdaptiveTimeout {
	return &AdaptiveTimeout{
		Base: 30 * time.Second,
		Step: 15 * time.Second,
		Max:  2 * time.Minute,
	}
}

func (p *AdaptiveTimeout) Timeout(host string, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base + time.Duration(attempt-1)*p.Step

	host = strings.ToLower(host)
	for suffix, factor := range p.SlowHosts {
		if strings.HasSuffix(host, strings.ToLower(suffix)) && factor > 1 {
			d = time.Duration(float64(d) * factor)
			break
		}
	}

	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// FixedTimeout always returns the same deadline regardless of host or
// attempt.
type FixedTimeout time.Duration

func (f FixedTimeout) Timeout(string, int) time.Duration { return time.Duration(f) }

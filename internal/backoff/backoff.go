// Package backoff computes exponential retry delays and adapts them to the
// cenkalti/backoff retry loop.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Timer is the sleep primitive the retry loop waits on.
type Timer = cbackoff.Timer

type Config struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay returns base * multiplier^attempt, perturbed by up to 25% either way
// when jitter is on, then clamped to [0, MaxDelay]. rnd supplies uniform
// values in [0, 1); nil means math/rand.
func Delay(attempt int, cfg Config, rnd func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	limit := cfg.MaxDelay
	if limit < 0 {
		limit = 0
	}

	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.Jitter {
		if rnd == nil {
			rnd = rand.Float64
		}
		d *= 0.75 + rnd()*0.5
	}

	switch {
	case math.IsNaN(d) || d <= 0:
		return 0
	case math.IsInf(d, 1) || d >= float64(limit):
		return limit
	}
	return time.Duration(d)
}

// Policy is a stateful cbackoff.BackOff producing Delay(0), Delay(1), ...
type Policy struct {
	cfg     Config
	rnd     func() float64
	attempt int
}

func NewPolicy(cfg Config, rnd func() float64) *Policy {
	return &Policy{cfg: cfg, rnd: rnd}
}

func (p *Policy) NextBackOff() time.Duration {
	d := Delay(p.attempt, p.cfg, p.rnd)
	p.attempt++
	return d
}

func (p *Policy) Reset() { p.attempt = 0 }

var fired = func() chan time.Time {
	c := make(chan time.Time)
	close(c)
	return c
}()

type instant struct{}

func (instant) Start(time.Duration) {}
func (instant) Stop() {}
func (instant) C() <-chan time.Time { return fired }

// Instant is a Timer that never waits. It is safe for concurrent use.
var Instant Timer = instant{}

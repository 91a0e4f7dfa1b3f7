package client

import (
	"time"

	"github.com/cenkalti/backoff"

	"ordertrack/config"
)

// Backoff shapes the delay between reconnect attempts.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:   time.Second,
		Factor: 2,
		Max:    30 * time.Second,
		Jitter: 0.2,
	}
}

func BackoffFromConfig(c config.BackoffConfig) Backoff {
	return Backoff{Base: c.Base, Factor: c.Factor, Max: c.Max, Jitter: c.Jitter}
}

// policy builds a retry policy that never gives up. Reset starts the
// sequence over from Base.
func (b Backoff) policy() *backoff.ExponentialBackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = b.Base
	p.Multiplier = b.Factor
	p.MaxInterval = b.Max
	p.RandomizationFactor = b.Jitter
	p.MaxElapsedTime = 0
	p.Reset()
	return p
}

package client

import (
	"context"
	"errors"
	"time"
)

var ErrGeoUnavailable = errors.New("geolocation unavailable")

// Sample is one position fix from a GeoSource.
type Sample struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Time      time.Time
}

// GeoSource produces position fixes. Probe reports whether the source can
// produce fixes at all on this device.
type GeoSource interface {
	Probe() error
	Samples(ctx context.Context) (<-chan Sample, error)
}

// Capability is resolved once at startup.
type Capability struct {
	Available bool
	Reason    string
}

func DetectCapability(src GeoSource) Capability {
	if src == nil {
		return Capability{Reason: "no position source"}
	}
	if err := src.Probe(); err != nil {
		return Capability{Reason: err.Error()}
	}
	return Capability{Available: true}
}

// SimulatedSource walks a straight line from (FromLat, FromLon) to
// (ToLat, ToLon) in Steps fixes, one per Interval, then closes the channel.
// Fix times advance by at least a millisecond so no two compare equal.
type SimulatedSource struct {
	FromLat, FromLon float64
	ToLat, ToLon     float64
	Steps            int
	Interval         time.Duration
	Accuracy         float64

	now func() time.Time
}

func (s *SimulatedSource) Probe() error {
	if s.Steps < 1 {
		return errors.New("simulated source: steps must be positive")
	}
	return nil
}

func (s *SimulatedSource) Samples(ctx context.Context) (<-chan Sample, error) {
	if err := s.Probe(); err != nil {
		return nil, err
	}
	now := s.now
	if now == nil {
		now = time.Now
	}

	ch := make(chan Sample)
	go func() {
		defer close(ch)
		var tick <-chan time.Time
		if s.Interval > 0 {
			t := time.NewTicker(s.Interval)
			defer t.Stop()
			tick = t.C
		}
		var prev time.Time
		for i := 0; i < s.Steps; i++ {
			if i > 0 && tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			}
			f := 1.0
			if s.Steps > 1 {
				f = float64(i) / float64(s.Steps-1)
			}
			at := now()
			if floor := prev.Add(time.Millisecond); i > 0 && at.Before(floor) {
				at = floor
			}
			prev = at
			sample := Sample{
				Latitude:  s.FromLat + (s.ToLat-s.FromLat)*f,
				Longitude: s.FromLon + (s.ToLon-s.FromLon)*f,
				Time:      at,
			}
			if s.Accuracy > 0 {
				acc := s.Accuracy
				sample.Accuracy = &acc
			}
			select {
			case <-ctx.Done():
				return
			case ch <- sample:
			}
		}
	}()
	return ch, nil
}

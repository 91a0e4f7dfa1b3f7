package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"ordertrack/protocol"
)

// PublisherStats counts what happened to produced samples.
type PublisherStats struct {
	Sent     int64
	Dropped  int64
	Invalid  int64
	Rejected int64
}

// Publisher turns position samples into location-updated messages for one
// order. Samples produced while disconnected are dropped, not queued.
type Publisher struct {
	protocol.NoOpHandler

	sup     *Supervisor
	orderID string
	source  GeoSource
	logFn   LogFunc

	sent     atomic.Int64
	dropped  atomic.Int64
	invalid  atomic.Int64
	rejected atomic.Int64
}

func NewPublisher(sup *Supervisor, orderID string, source GeoSource, logFn LogFunc) *Publisher {
	if logFn == nil {
		logFn = log.Printf
	}
	p := &Publisher{
		sup:     sup,
		orderID: orderID,
		source:  source,
		logFn:   logFn,
	}
	sup.AddHandler(p)
	return p
}

// Run publishes until the source is exhausted or ctx is done. It returns
// ErrGeoUnavailable when the source cannot produce fixes.
func (p *Publisher) Run(ctx context.Context) error {
	capability := DetectCapability(p.source)
	if !capability.Available {
		return fmt.Errorf("%w: %s", ErrGeoUnavailable, capability.Reason)
	}
	samples, err := p.source.Samples(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGeoUnavailable, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			p.publish(sample)
		}
	}
}

func (p *Publisher) publish(sample Sample) {
	u := protocol.LocationUpdate{
		OrderID:   p.orderID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Timestamp: sample.Time.UnixMilli(),
		Accuracy:  sample.Accuracy,
	}
	if err := protocol.Validate(u); err != nil {
		p.invalid.Add(1)
		p.logFn("publisher: skipping sample: %v", err)
		return
	}
	env, err := protocol.NewEnvelope(protocol.TypeLocationUpdated, protocol.EncodeLocationUpdated(u))
	if err != nil {
		p.logFn("publisher: build envelope: %v", err)
		return
	}
	if err := p.sup.Send(env); err != nil {
		p.dropped.Add(1)
		if !errors.Is(err, ErrNotConnected) {
			p.logFn("publisher: %v", err)
		}
		return
	}
	p.sent.Add(1)
}

func (p *Publisher) HandleUpdateRejected(_ *protocol.Envelope, r *protocol.UpdateRejected) {
	if r.OrderID != "" && r.OrderID != p.orderID {
		return
	}
	p.rejected.Add(1)
	p.logFn("publisher: server rejected update for %s: %s (field %q)", p.orderID, r.Reason, r.Field)
}

func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Sent:     p.sent.Load(),
		Dropped:  p.dropped.Load(),
		Invalid:  p.invalid.Load(),
		Rejected: p.rejected.Load(),
	}
}

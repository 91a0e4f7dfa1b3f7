package messaging

import (
	"encoding/json"
	"log"

	"ordertrack/broker"
	"ordertrack/protocol"
)

// Transport is the subset of Client the relay and mirror need.
type Transport interface {
	Subscribe(topic string, handler MessageHandler) error
	Publish(topic string, payload []byte) error
}

// Publisher accepts location payloads for fan-out.
type Publisher interface {
	Publish(from broker.Conn, raw []byte) (protocol.LocationUpdate, error)
}

// Relay feeds location updates arriving on the ingest topic into the broker.
// Payloads may be full location-updated envelopes or bare flat payloads.
type Relay struct {
	protocol.NoOpHandler

	transport Transport
	broker    Publisher
	topic     string
	ingestor  *protocol.Ingestor
}

func NewRelay(transport Transport, b Publisher, topic string) *Relay {
	r := &Relay{
		transport: transport,
		broker:    b,
		topic:     topic,
	}
	r.ingestor = protocol.NewIngestor(r, func(hdr *protocol.RawHeader) bool {
		return hdr.Type == protocol.TypeLocationUpdated
	})
	return r
}

func (r *Relay) Start() error {
	if err := r.transport.Subscribe(r.topic, r.handleMessage); err != nil {
		return err
	}
	log.Printf("relay: listening on %s", r.topic)
	return nil
}

func (r *Relay) handleMessage(_ string, payload []byte) {
	var hdr protocol.RawHeader
	if err := json.Unmarshal(payload, &hdr); err == nil && hdr.Type != "" {
		if err := r.ingestor.HandleRaw(payload); err != nil {
			log.Printf("relay: %s: dropped message: %v", r.topic, err)
		}
		return
	}
	r.publish(payload)
}

func (r *Relay) HandleLocationUpdated(_ *protocol.Envelope, raw json.RawMessage) {
	r.publish(raw)
}

func (r *Relay) publish(raw []byte) {
	if _, err := r.broker.Publish(nil, raw); err != nil {
		log.Printf("relay: %s: %v", r.topic, err)
	}
}

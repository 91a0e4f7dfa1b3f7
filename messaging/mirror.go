package messaging

import (
	"log"
	"sync"

	"ordertrack/protocol"
)

const DefaultMirrorDepth = 256

// Mirror republishes relayed updates on a bus topic for downstream consumers.
// Enqueue never blocks the caller; when the queue is full the update is dropped.
type Mirror struct {
	transport Transport
	topic     string
	queue     chan []byte

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewMirror(transport Transport, topic string, depth int) *Mirror {
	if depth <= 0 {
		depth = DefaultMirrorDepth
	}
	return &Mirror{
		transport: transport,
		topic:     topic,
		queue:     make(chan []byte, depth),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (m *Mirror) Start() {
	go m.run()
}

// Stop drains what is already queued and waits for the publisher goroutine.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Enqueue reports whether u was queued.
func (m *Mirror) Enqueue(u protocol.LocationUpdate) bool {
	env, err := protocol.NewEnvelope(protocol.TypeLocationUpdated, protocol.EncodeLocationUpdated(u))
	if err != nil {
		log.Printf("mirror: build envelope: %v", err)
		return false
	}
	data, err := env.Encode()
	if err != nil {
		log.Printf("mirror: encode envelope: %v", err)
		return false
	}
	select {
	case m.queue <- data:
		return true
	default:
		log.Printf("mirror: queue full, dropped update for %s", u.OrderID)
		return false
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stopCh:
			m.drain()
			return
		case data := <-m.queue:
			m.send(data)
		}
	}
}

func (m *Mirror) drain() {
	for {
		select {
		case data := <-m.queue:
			m.send(data)
		default:
			return
		}
	}
}

func (m *Mirror) send(data []byte) {
	if err := m.transport.Publish(m.topic, data); err != nil {
		log.Printf("mirror: publish to %s failed: %v", m.topic, err)
	}
}

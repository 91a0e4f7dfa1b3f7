package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"ordertrack/engine"
)

// SSEEvent is one frame on the activity stream. An empty Event is a
// keepalive and is written as an SSE comment.
type SSEEvent struct {
	Event   string
	OrderID string
	Data    string
}

// EventHub fans engine activity out to /events subscribers. A client may
// follow a single order; slow clients lose frames rather than stall the hub.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[chan SSEEvent]string // channel -> order filter ("" = all)
	broadcast chan SSEEvent
	stopOnce  sync.Once
	stopChan  chan struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[chan SSEEvent]string),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.deliver(evt)
		case <-keepalive.C:
			h.deliver(SSEEvent{})
		}
	}
}

func (h *EventHub) deliver(evt SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, orderID := range h.clients {
		if orderID != "" && evt.OrderID != "" && evt.OrderID != orderID {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
		log.Printf("sse: broadcast queue full, dropped %s", evt.Event)
	}
}

// AddClient registers a stream. With a non-empty orderID the client only
// receives that order's events plus system-wide ones.
func (h *EventHub) AddClient(orderID string) chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	h.mu.Lock()
	h.clients[ch] = orderID
	h.mu.Unlock()
	return ch
}

func (h *EventHub) RemoveClient(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetupEngineListeners forwards every engine event to the stream.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.Subscribe(func(evt engine.Event) {
		data, err := json.Marshal(streamPayload(evt))
		if err != nil {
			log.Printf("sse: marshal %s: %v", evt.Type, err)
			return
		}
		h.Broadcast(SSEEvent{Event: evt.Type.String(), OrderID: evt.OrderID, Data: string(data)})
	})
}

func streamPayload(evt engine.Event) any {
	switch ev := evt.Payload.(type) {
	case engine.RoomEvent:
		return map[string]any{"orderId": ev.OrderID}
	case engine.MemberEvent:
		return map[string]any{"orderId": ev.OrderID, "members": ev.Members}
	case engine.UpdateRelayedEvent:
		return map[string]any{
			"orderId":    ev.Update.OrderID,
			"latitude":   ev.Update.Latitude,
			"longitude":  ev.Update.Longitude,
			"timestamp":  ev.Update.Timestamp,
			"recipients": ev.Recipients,
		}
	case engine.UpdateRejectedEvent:
		return map[string]any{"orderId": ev.OrderID, "reason": ev.Reason}
	case engine.ConnectionEvent:
		return map[string]any{"detail": ev.Detail}
	default:
		return map[string]any{}
	}
}

// SSEHandler serves /events, optionally narrowed with ?order=<id>.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.AddClient(r.URL.Query().Get("order"))
	defer h.RemoveClient(ch)

	fmt.Fprint(w, "retry: 3000\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			var err error
			if evt.Event == "" {
				_, err = fmt.Fprint(w, ": keepalive\n\n")
			} else {
				_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data)
			}
			if err != nil {
				log.Printf("sse: write error: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

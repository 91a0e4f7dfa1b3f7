package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ordertrack/engine"
)

type Handlers struct {
	engine   *engine.Engine
	eventHub *EventHub
}

func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		eventHub: hub,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Tracking socket
	r.Handle("/ws", newWSHandler(eng.Broker(), eng.AppConfig().Broker))

	// SSE
	r.Get("/events", hub.SSEHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/rooms", h.apiListRooms)
		r.Get("/rooms/{orderID}", h.apiGetRoom)
	})

	stopFn := func() {
		hub.Stop()
	}

	return r, stopFn
}

package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]any{
		"status":      "ok",
		"rooms":       h.engine.Broker().RoomCount(),
		"sse_clients": h.eventHub.ClientCount(),
		"messaging":   h.engine.MessagingConnected(),
		"stats":       h.engine.Stats(),
	})
}

func (h *Handlers) apiListRooms(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Broker().Rooms())
}

func (h *Handlers) apiGetRoom(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	members := h.engine.Broker().Members(orderID)
	if len(members) == 0 {
		h.jsonError(w, "not found", http.StatusNotFound)
		return
	}
	h.jsonOK(w, map[string]any{
		"order_id": orderID,
		"members":  members,
	})
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

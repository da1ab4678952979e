package fanout

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes raw delivery to the surrounding application layer:
// the app decides what the payload means, we decide who is reachable.
type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type deliverRequest struct {
	Payload     json.RawMessage `json:"payload"`
	ExcludeUser string          `json:"exclude_user,omitempty"`
}

func (h *Handler) DeliverToUser(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, ToUser(chi.URLParam(r, "userID")))
}

func (h *Handler) DeliverToConversation(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, ToConversation(chi.URLParam(r, "conversationID")))
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request, sel Selector) {
	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Payload) == 0 {
		http.Error(w, "payload is required", http.StatusBadRequest)
		return
	}

	res := h.engine.Deliver(r.Context(), sel, req.Payload, Options{ExcludeUser: req.ExcludeUser})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

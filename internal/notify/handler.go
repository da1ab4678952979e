package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go-signal/internal/middleware"
)

type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

type createRequest struct {
	UserID    string `json:"user_id"`
	Type      Type   `json:"type"`
	Content   string `json:"content"`
	RelatedID string `json:"related_id,omitempty"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || !req.Type.Valid() {
		http.Error(w, "user_id and a valid type are required", http.StatusBadRequest)
		return
	}

	n, suppressed, err := h.dispatcher.Notify(r.Context(), req.UserID, req.Type, req.Content, Options{
		SenderID:  middleware.UserID(r.Context()),
		RelatedID: req.RelatedID,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if suppressed {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]bool{"suppressed": true})
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(n)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.dispatcher.ListByUser(r.Context(), middleware.UserID(r.Context()), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []Notification{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	err := h.dispatcher.MarkRead(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

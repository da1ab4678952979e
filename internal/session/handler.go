package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go-signal/internal/middleware"
)

type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

type createSessionRequest struct {
	CounterpartyID string     `json:"counterparty_id"`
	AppointmentID  string     `json:"appointment_id,omitempty"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.CounterpartyID == "" {
		http.Error(w, "counterparty_id is required", http.StatusBadRequest)
		return
	}

	s, err := h.manager.Create(r.Context(), middleware.UserID(r.Context()),
		req.CounterpartyID, req.AppointmentID, req.ScheduledStart)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(s)
}

type joinResponse struct {
	Session  *Session  `json:"session"`
	Attendee *Attendee `json:"attendee"`
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	s, a, err := h.manager.Join(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(joinResponse{Session: s, Attendee: a})
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	err := h.manager.Leave(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type endRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body means default reason
	}

	s, err := h.manager.End(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "not a party to this session", http.StatusForbidden)
	case errors.Is(err, ErrSessionEnded):
		http.Error(w, "session already ended", http.StatusConflict)
	case errors.Is(err, ErrGone):
		http.Error(w, "meeting expired", http.StatusGone)
	case errors.Is(err, ErrProviderUnavailable):
		http.Error(w, "meeting service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

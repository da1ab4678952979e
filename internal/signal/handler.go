package signal

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-signal/internal/middleware"
)

type Handler struct {
	controller *Controller
}

func NewHandler(c *Controller) *Handler {
	return &Handler{controller: c}
}

type inviteRequest struct {
	CalleeID  string `json:"callee_id"`
	SessionID string `json:"session_id"`
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.CalleeID == "" || req.SessionID == "" {
		http.Error(w, "callee_id and session_id are required", http.StatusBadRequest)
		return
	}

	err := h.controller.Invite(r.Context(), middleware.UserID(r.Context()),
		req.CalleeID, req.SessionID, middleware.DisplayName(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type answerRequest struct {
	CallerID  string `json:"caller_id"`
	SessionID string `json:"session_id"`
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeAnswer(w, r, &req); err != nil {
		return
	}
	err := h.controller.Accept(r.Context(), middleware.UserID(r.Context()),
		req.CallerID, req.SessionID, middleware.DisplayName(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeAnswer(w, r, &req); err != nil {
		return
	}
	err := h.controller.Decline(r.Context(), middleware.UserID(r.Context()),
		req.CallerID, req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type endCallRequest struct {
	RecipientID string `json:"recipient_id"`
	SessionID   string `json:"session_id"`
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	var req endCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RecipientID == "" || req.SessionID == "" {
		http.Error(w, "recipient_id and session_id are required", http.StatusBadRequest)
		return
	}

	err := h.controller.End(r.Context(), middleware.UserID(r.Context()),
		req.RecipientID, req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decodeAnswer(w http.ResponseWriter, r *http.Request, req *answerRequest) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}
	if req.CallerID == "" || req.SessionID == "" {
		http.Error(w, "caller_id and session_id are required", http.StatusBadRequest)
		return errors.New("missing caller_id or session_id")
	}
	return nil
}

// Package notify is a mock buyer notification transport. Messages are
// logged instead of being handed to an SMS or mail provider.
package notify

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

type Handler struct {
	logger  *slog.Logger
	latency func() time.Duration
}

type Option func(*Handler)

// WithLatency overrides the simulated provider latency.
func WithLatency(latency func() time.Duration) Option {
	return func(h *Handler) {
		h.latency = latency
	}
}

func NewHandler(logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger: logger,
		latency: func() time.Duration {
			return time.Duration(50+rand.Intn(151)) * time.Millisecond
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SendRequest is the body accepted by POST /send.
type SendRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Channel string `json:"channel"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Channel == "" {
		req.Channel = ChannelSMS
	}
	if req.Channel != ChannelSMS && req.Channel != ChannelEmail {
		h.writeError(w, http.StatusBadRequest, "channel must be sms or email")
		return
	}
	if strings.TrimSpace(req.To) == "" {
		h.writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		h.writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	select {
	case <-time.After(h.latency()):
	case <-r.Context().Done():
		h.writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}

	h.logger.Info("notification sent", "channel", req.Channel, "to", req.To, "subject", req.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent", Channel: req.Channel})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

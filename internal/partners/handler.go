package partners

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

// AvailabilitySetter applies the administrative availability override.
type AvailabilitySetter interface {
	SetPartnerAvailability(ctx context.Context, partnerID string, available bool) (*domain.DeliveryPartner, error)
}

type Directory interface {
	Create(ctx context.Context, partner *domain.DeliveryPartner) error
	Get(ctx context.Context, id string) (*domain.DeliveryPartner, error)
	List(ctx context.Context) ([]domain.DeliveryPartner, error)
}

type Handler struct {
	directory Directory
	setter    AvailabilitySetter
	logger    *slog.Logger
}

func NewHandler(directory Directory, setter AvailabilitySetter, logger *slog.Logger) *Handler {
	return &Handler{
		directory: directory,
		setter:    setter,
		logger:    logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /delivery-partners", wrap(h.HandleList))
	mux.HandleFunc("POST /delivery-partners", wrap(h.HandleCreate))
	mux.HandleFunc("GET /delivery-partners/{id}", wrap(h.HandleGet))
	mux.HandleFunc("PUT /delivery-partners/{id}/availability", wrap(h.HandleSetAvailability))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	partners, err := h.directory.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list partners", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("partners listed", "count", len(partners))
	h.writeJSON(w, http.StatusOK, partners)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing partner id")
		return
	}

	partner, err := h.directory.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "partner not found")
			return
		}
		h.logger.Error("failed to get partner", "error", err, "partner_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, partner)
}

type createRequest struct {
	Name               string  `json:"name"`
	Phone              string  `json:"phone"`
	VehicleDescription string  `json:"vehicle_description"`
	Location           string  `json:"location"`
	Available          *bool   `json:"available"`
	Rating             float64 `json:"rating"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		h.writeError(w, http.StatusBadRequest, "location is required")
		return
	}
	if req.Rating < 0 || req.Rating > 5 {
		h.writeError(w, http.StatusBadRequest, "rating must be between 0 and 5")
		return
	}

	partner := &domain.DeliveryPartner{
		Name:               req.Name,
		Phone:              req.Phone,
		VehicleDescription: req.VehicleDescription,
		Location:           strings.TrimSpace(req.Location),
		Available:          req.Available == nil || *req.Available,
		Rating:             req.Rating,
	}

	if err := h.directory.Create(r.Context(), partner); err != nil {
		h.logger.Error("failed to create partner", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("partner registered", "partner_id", partner.ID, "location", partner.Location)
	h.writeJSON(w, http.StatusCreated, partner)
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (h *Handler) HandleSetAvailability(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing partner id")
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Available == nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	partner, err := h.setter.SetPartnerAvailability(r.Context(), id, *req.Available)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "partner not found")
		case errors.Is(err, domain.ErrPartnerBusy):
			h.writeError(w, http.StatusConflict, "partner is serving an active order")
		default:
			h.logger.Error("failed to set partner availability", "error", err, "partner_id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, partner)
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

package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

// Service is the order side of the assignment service.
type Service interface {
	PlaceAndAssign(ctx context.Context, draft domain.OrderDraft) (*domain.Order, error)
	Assign(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error)
}

type Reader interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

const (
	assignmentAssigned = "assigned"
	assignmentPending  = "pending"
	assignmentFailed   = "failed"
)

type Handler struct {
	service   Service
	reader    Reader
	publisher EventPublisher
	logger    *slog.Logger
}

// NewHandler wires the order endpoints. publisher may be nil, in which case
// no order.placed events are emitted.
func NewHandler(service Service, reader Reader, publisher EventPublisher, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		reader:    reader,
		publisher: publisher,
		logger:    logger,
	}
}

// Register mounts the order routes on mux, passing each handler through wrap.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /orders", wrap(h.HandleCreate))
	mux.HandleFunc("GET /orders", wrap(h.HandleList))
	mux.HandleFunc("GET /orders/{id}", wrap(h.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", wrap(h.HandleUpdateStatus))
	mux.HandleFunc("POST /orders/{id}/assign", wrap(h.HandleAssign))
}

type placementResponse struct {
	Order      *domain.Order `json:"order"`
	Assignment string        `json:"assignment"`
	Error      string        `json:"error,omitempty"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var draft domain.OrderDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.PlaceAndAssign(r.Context(), draft)
	if order == nil {
		h.writeServiceError(w, err, "failed to place order")
		return
	}

	resp := placementResponse{Order: order, Assignment: assignmentState(order)}
	if err != nil {
		resp.Assignment = assignmentFailed
		resp.Error = "partner assignment failed"
	}

	h.publishPlaced(r.Context(), order)

	h.logger.Info("order created", "order_id", order.ID, "buyer_id", order.BuyerID, "assignment", resp.Assignment)
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.reader.GetByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get order", "id", id)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		BuyerID:   q.Get("buyer_id"),
		Status:    domain.OrderStatus(q.Get("status")),
		PartnerID: q.Get("partner_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	orders, err := h.reader.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeServiceError(w, err, "failed to update order status", "id", id, "status", req.Status)
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Assign(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to assign partner", "id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, placementResponse{Order: order, Assignment: assignmentState(order)})
}

func (h *Handler) publishPlaced(ctx context.Context, order *domain.Order) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, order.ID, domain.NewOrderPlacedEvent(order)); err != nil {
		h.logger.Error("failed to publish order placed event", "error", err, "order_id", order.ID)
	}
}

func assignmentState(order *domain.Order) string {
	if order.AssignedPartnerID != nil {
		return assignmentAssigned
	}
	return assignmentPending
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, args ...any) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrAlreadyAssigned):
		h.writeError(w, http.StatusConflict, "order already has an assigned partner")
	case errors.Is(err, domain.ErrPartnerBusy), errors.Is(err, domain.ErrPartnerUnavailable):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error(msg, append([]any{"error", err}, args...)...)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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

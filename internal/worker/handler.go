package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

// AssignmentHandler consumes order.placed events. Orders that were placed
// without a partner get one more assignment attempt once the retry delay has
// passed since placement, and the buyer is told the outcome.
type AssignmentHandler struct {
	ordersServiceURL string
	notifyServiceURL string
	channel          string
	retryDelay       time.Duration
	retryInterval    time.Duration
	maxAttempts      uint
	httpClient       *http.Client
	logger           *slog.Logger
	now              func() time.Time
}

type Option func(*AssignmentHandler)

// WithRetryPolicy sets the first backoff interval and the number of attempts
// made against the orders and notify services before an event is given up.
func WithRetryPolicy(interval time.Duration, attempts uint) Option {
	return func(h *AssignmentHandler) {
		h.retryInterval = interval
		h.maxAttempts = attempts
	}
}

func NewAssignmentHandler(ordersServiceURL, notifyServiceURL, channel string, retryDelay time.Duration, client *http.Client, logger *slog.Logger, opts ...Option) *AssignmentHandler {
	h := &AssignmentHandler{
		ordersServiceURL: ordersServiceURL,
		notifyServiceURL: notifyServiceURL,
		channel:          channel,
		retryDelay:       retryDelay,
		retryInterval:    500 * time.Millisecond,
		maxAttempts:      5,
		httpClient:       client,
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// errSkip marks an assignment retry whose outcome needs no notification.
var errSkip = errors.New("nothing to notify")

type assignResponse struct {
	Order      domain.Order `json:"order"`
	Assignment string       `json:"assignment"`
}

// Handle only fails when ctx is done, so the offset stays uncommitted and the
// event is redelivered. Undecodable payloads and events whose services keep
// failing are logged and dropped.
func (h *AssignmentHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping undecodable order placed event", "error", err, "size", len(payload))
		return nil
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID, "buyer_id", event.BuyerID)

	err := h.process(ctx, event)
	switch {
	case err == nil, errors.Is(err, errSkip):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		h.logger.Error("giving up on order placed event", "error", err, "order_id", event.OrderID)
		return nil
	}
}

func (h *AssignmentHandler) process(ctx context.Context, event domain.OrderPlacedEvent) error {
	partnerID := event.AssignedPartnerID
	if partnerID == "" {
		assigned, err := h.retryAssignment(ctx, event)
		if err != nil {
			return fmt.Errorf("retry assignment: %w", err)
		}
		partnerID = assigned
	}

	if err := h.notifyBuyer(ctx, event, partnerID); err != nil {
		return fmt.Errorf("notify buyer: %w", err)
	}

	h.logger.Info("order placed event processed", "order_id", event.OrderID, "partner_id", partnerID)
	return nil
}

// retryAssignment waits until the retry delay has elapsed since the order was
// placed and returns the assigned partner id, or "" when the order is still
// waiting for a partner.
func (h *AssignmentHandler) retryAssignment(ctx context.Context, event domain.OrderPlacedEvent) (string, error) {
	if wait := event.Timestamp.Add(h.retryDelay).Sub(h.now()); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return backoff.Retry(ctx, func() (string, error) {
		return h.requestAssignment(ctx, event.OrderID)
	}, h.retryOptions(event.OrderID, "assign")...)
}

func (h *AssignmentHandler) requestAssignment(ctx context.Context, orderID string) (string, error) {
	url := fmt.Sprintf("%s/orders/%s/assign", h.ordersServiceURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create assign request: %w", err))
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusConflict:
		h.logger.Info("order was assigned elsewhere", "order_id", orderID)
		return "", backoff.Permanent(errSkip)
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusUnprocessableEntity:
		h.logger.Warn("order can no longer be assigned", "order_id", orderID, "status", resp.StatusCode)
		return "", backoff.Permanent(errSkip)
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("orders service returned status %d", resp.StatusCode)
	default:
		return "", backoff.Permanent(fmt.Errorf("orders service returned status %d", resp.StatusCode))
	}

	var body assignResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode assign response: %w", err))
	}

	if body.Order.AssignedPartnerID == nil {
		h.logger.Info("still no delivery partner available", "order_id", orderID)
		return "", nil
	}
	return *body.Order.AssignedPartnerID, nil
}

func (h *AssignmentHandler) notifyBuyer(ctx context.Context, event domain.OrderPlacedEvent, partnerID string) error {
	msg := map[string]string{
		"to":      event.ContactPhone,
		"channel": h.channel,
		"subject": "Order " + event.OrderID,
	}
	if partnerID != "" {
		msg["body"] = fmt.Sprintf("Your order %s of %s is confirmed and a delivery partner has been assigned.",
			event.OrderID, event.TotalAmount.StringFixed(2))
	} else {
		msg["body"] = fmt.Sprintf("Your order %s of %s is confirmed. We are still looking for a delivery partner in %s.",
			event.OrderID, event.TotalAmount.StringFixed(2), event.City)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h.send(ctx, data)
	}, h.retryOptions(event.OrderID, "notify")...)
	return err
}

func (h *AssignmentHandler) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.notifyServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("notify service returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("notify service returned status %d", resp.StatusCode))
	}
}

func (h *AssignmentHandler) retryOptions(orderID, step string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.retryInterval
	b.Reset()

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(h.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.logger.Warn("call failed, retrying", "error", err, "order_id", orderID, "step", step, "retry_in", next)
		}),
	}
}

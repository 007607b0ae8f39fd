package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

type recordedNotification struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Body    string `json:"body"`
}

type fakeServices struct {
	mu            sync.Mutex
	assignCalls   int
	assignStatus  int
	failFirst     int
	notifyStatus  int
	assignBody    string
	notifications []recordedNotification
	orders        *httptest.Server
	notify        *httptest.Server
}

func newFakeServices(t *testing.T, assignStatus int, assignBody string) *fakeServices {
	t.Helper()

	f := &fakeServices{assignStatus: assignStatus, assignBody: assignBody, notifyStatus: http.StatusOK}

	f.orders = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.assignCalls++
		failing := f.assignCalls <= f.failFirst
		f.mu.Unlock()

		if r.Method != http.MethodPost || r.URL.Path != "/orders/order-1/assign" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(f.assignStatus)
		_, _ = w.Write([]byte(f.assignBody))
	}))
	t.Cleanup(f.orders.Close)

	f.notify = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n recordedNotification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Errorf("decode notification: %v", err)
		}
		f.mu.Lock()
		f.notifications = append(f.notifications, n)
		status := f.notifyStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(f.notify.Close)

	return f
}

func (f *fakeServices) setFailFirst(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFirst = n
}

func (f *fakeServices) setNotifyStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyStatus = status
}

func (f *fakeServices) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignCalls
}

func (f *fakeServices) sent() []recordedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedNotification(nil), f.notifications...)
}

func (f *fakeServices) handler() *AssignmentHandler {
	return f.handlerWithDelay(time.Millisecond)
}

func (f *fakeServices) handlerWithDelay(delay time.Duration) *AssignmentHandler {
	return NewAssignmentHandler(f.orders.URL, f.notify.URL, "sms", delay,
		http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithRetryPolicy(time.Millisecond, 3))
}

func placedEvent(t *testing.T, partnerID string) []byte {
	t.Helper()
	return placedEventAt(t, partnerID, time.Now().UTC())
}

func placedEventAt(t *testing.T, partnerID string, placedAt time.Time) []byte {
	t.Helper()

	data, err := json.Marshal(domain.OrderPlacedEvent{
		OrderID:           "order-1",
		BuyerID:           "buyer-1",
		City:              "Chennai",
		ContactPhone:      "+919876543210",
		TotalAmount:       decimal.RequireFromString("150"),
		AssignedPartnerID: partnerID,
		Timestamp:         placedAt,
	})
	require.NoError(t, err)
	return data
}

func TestAssignmentHandler_Handle(t *testing.T) {
	t.Run("assigned order only notifies", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK, `{}`)

		err := f.handler().Handle(context.Background(), placedEvent(t, "partner-1"))
		require.NoError(t, err)

		assert.Zero(t, f.calls())
		sent := f.sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "+919876543210", sent[0].To)
		assert.Equal(t, "sms", sent[0].Channel)
		assert.Contains(t, sent[0].Body, "delivery partner has been assigned")
		assert.Contains(t, sent[0].Body, "150.00")
	})

	t.Run("pending order is retried and assigned", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK,
			`{"order":{"id":"order-1","assigned_partner_id":"partner-9"},"assignment":"assigned"}`)

		err := f.handler().Handle(context.Background(), placedEvent(t, ""))
		require.NoError(t, err)

		assert.Equal(t, 1, f.calls())
		sent := f.sent()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].Body, "delivery partner has been assigned")
	})

	t.Run("pending order still without partner", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK,
			`{"order":{"id":"order-1","assigned_partner_id":null},"assignment":"pending"}`)

		err := f.handler().Handle(context.Background(), placedEvent(t, ""))
		require.NoError(t, err)

		sent := f.sent()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].Body, "still looking for a delivery partner in Chennai")
	})

	t.Run("conflict and gone orders are skipped", func(t *testing.T) {
		for _, status := range []int{http.StatusConflict, http.StatusNotFound, http.StatusUnprocessableEntity} {
			f := newFakeServices(t, status, `{"error":"x"}`)

			err := f.handler().Handle(context.Background(), placedEvent(t, ""))
			require.NoError(t, err)
			assert.Empty(t, f.sent())
		}
	})

	t.Run("transient server error is retried", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK,
			`{"order":{"id":"order-1","assigned_partner_id":"partner-9"},"assignment":"assigned"}`)
		f.setFailFirst(2)

		err := f.handler().Handle(context.Background(), placedEvent(t, ""))
		require.NoError(t, err)

		assert.Equal(t, 3, f.calls())
		sent := f.sent()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].Body, "delivery partner has been assigned")
	})

	t.Run("persistent server error is dropped after bounded attempts", func(t *testing.T) {
		f := newFakeServices(t, http.StatusInternalServerError, `{"error":"internal server error"}`)

		err := f.handler().Handle(context.Background(), placedEvent(t, ""))
		require.NoError(t, err)

		assert.Equal(t, 3, f.calls())
		assert.Empty(t, f.sent())
	})

	t.Run("notify failure is bounded", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK, `{}`)
		f.setNotifyStatus(http.StatusBadGateway)

		err := f.handler().Handle(context.Background(), placedEvent(t, "partner-1"))
		require.NoError(t, err)
		assert.Len(t, f.sent(), 3)
	})

	t.Run("rejected notification is not retried", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK, `{}`)
		f.setNotifyStatus(http.StatusBadRequest)

		err := f.handler().Handle(context.Background(), placedEvent(t, "partner-1"))
		require.NoError(t, err)
		assert.Len(t, f.sent(), 1)
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK, `{}`)

		err := f.handler().Handle(context.Background(), []byte(`{`))
		require.NoError(t, err)
		assert.Zero(t, f.calls())
		assert.Empty(t, f.sent())
	})

	t.Run("delay counts from placement time", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK,
			`{"order":{"id":"order-1","assigned_partner_id":null},"assignment":"pending"}`)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := f.handlerWithDelay(time.Hour).Handle(ctx, placedEventAt(t, "", time.Now().Add(-2*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, 1, f.calls())
	})

	t.Run("cancelled context stops the retry", func(t *testing.T) {
		f := newFakeServices(t, http.StatusOK, `{}`)
		h := NewAssignmentHandler(f.orders.URL, f.notify.URL, "sms", time.Hour,
			http.DefaultClient, slog.New(slog.NewTextHandler(io.Discard, nil)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := h.Handle(ctx, placedEvent(t, ""))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, f.calls())
	})
}

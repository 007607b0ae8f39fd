package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/agrimarket/internal/assignment"
	"github.com/joao-fontenele/agrimarket/internal/domain"
	"github.com/joao-fontenele/agrimarket/internal/memstore"
	"github.com/joao-fontenele/agrimarket/internal/orders"
)

const chennaiOrder = `{
	"buyer_id": "buyer-1",
	"items": [
		{"product_id": "tomato", "name": "Tomatoes", "unit_price": "40.00", "quantity": 2},
		{"product_id": "onion", "name": "Onions", "unit_price": 35, "quantity": 2}
	],
	"delivery_address": {
		"street": "12 Anna Salai",
		"city": "Chennai",
		"state": "Tamil Nadu",
		"postal_code": "600002",
		"phone": "+919876543210"
	},
	"total_amount": 1
}`

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.OrderPlacedEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(domain.OrderPlacedEvent))
	return p.err
}

type testServer struct {
	mux       *http.ServeMux
	store     *memstore.Store
	publisher *capturePublisher
}

func identity(h http.HandlerFunc) http.HandlerFunc { return h }

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New(domain.LocationMatchExact)
	service, err := assignment.NewService(store.Orders(), store, logger)
	require.NoError(t, err)

	publisher := &capturePublisher{}
	mux := http.NewServeMux()
	orders.NewHandler(service, store.Orders(), publisher, logger).Register(mux, identity)

	return &testServer{mux: mux, store: store, publisher: publisher}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) addPartner(t *testing.T, location string) *domain.DeliveryPartner {
	t.Helper()

	p := &domain.DeliveryPartner{Name: "Ravi", Location: location, Available: true}
	require.NoError(t, s.store.Partners().Create(context.Background(), p))
	return p
}

type placement struct {
	Order      domain.Order `json:"order"`
	Assignment string       `json:"assignment"`
	Error      string       `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHandleCreate(t *testing.T) {
	t.Run("assigned", func(t *testing.T) {
		s := newTestServer(t)
		partner := s.addPartner(t, "Chennai")

		rec := s.do(http.MethodPost, "/orders", chennaiOrder)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decode[placement](t, rec)
		assert.Equal(t, "assigned", resp.Assignment)
		assert.True(t, resp.Order.TotalAmount.Equal(decimal.NewFromInt(150)))
		require.NotNil(t, resp.Order.AssignedPartnerID)
		assert.Equal(t, partner.ID, *resp.Order.AssignedPartnerID)

		require.Len(t, s.publisher.events, 1)
		assert.Equal(t, resp.Order.ID, s.publisher.events[0].OrderID)
		assert.Equal(t, partner.ID, s.publisher.events[0].AssignedPartnerID)
		assert.Equal(t, "Chennai", s.publisher.events[0].City)
	})

	t.Run("pending", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(http.MethodPost, "/orders", chennaiOrder)
		require.Equal(t, http.StatusCreated, rec.Code)

		resp := decode[placement](t, rec)
		assert.Equal(t, "pending", resp.Assignment)
		assert.Nil(t, resp.Order.AssignedPartnerID)
		require.Len(t, s.publisher.events, 1)
		assert.Empty(t, s.publisher.events[0].AssignedPartnerID)
	})

	t.Run("publish failure does not fail placement", func(t *testing.T) {
		s := newTestServer(t)
		s.publisher.err = errors.New("broker down")

		rec := s.do(http.MethodPost, "/orders", chennaiOrder)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("validation error", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(http.MethodPost, "/orders", `{"buyer_id":"b","items":[]}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decode[map[string]string](t, rec)
		assert.Equal(t, "items must not be empty", resp["error"])
		assert.Empty(t, s.publisher.events)
	})

	t.Run("price the schema cannot hold", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(http.MethodPost, "/orders", strings.Replace(chennaiOrder, `"40.00"`, `"0.334"`, 1))
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decode[map[string]string](t, rec)
		assert.Equal(t, "items[0].unit_price must have at most 2 decimal places", resp["error"])

		list, err := s.store.Orders().List(context.Background(), domain.OrderFilter{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("malformed body", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(http.MethodPost, "/orders", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGetAndList(t *testing.T) {
	s := newTestServer(t)

	created := decode[placement](t, s.do(http.MethodPost, "/orders", chennaiOrder))

	rec := s.do(http.MethodGet, "/orders/"+created.Order.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.Order](t, rec)
	assert.Equal(t, created.Order.ID, got.ID)
	assert.Len(t, got.Items, 2)

	rec = s.do(http.MethodGet, "/orders/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/orders?buyer_id=buyer-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Order](t, rec), 1)

	rec = s.do(http.MethodGet, "/orders?buyer_id=someone-else", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]domain.Order](t, rec))

	rec = s.do(http.MethodGet, "/orders?status=teleported", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdateStatus(t *testing.T) {
	s := newTestServer(t)
	partner := s.addPartner(t, "Chennai")
	created := decode[placement](t, s.do(http.MethodPost, "/orders", chennaiOrder))

	rec := s.do(http.MethodPatch, "/orders/"+created.Order.ID+"/status", `{"status":"delivered"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.OrderStatusDelivered, decode[domain.Order](t, rec).Status)

	p, err := s.store.Partners().Get(context.Background(), partner.ID)
	require.NoError(t, err)
	assert.True(t, p.Available)

	rec = s.do(http.MethodPatch, "/orders/"+created.Order.ID+"/status", `{"status":"pending"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPatch, "/orders/"+created.Order.ID+"/status", `{"status":"lost"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPatch, "/orders/missing/status", `{"status":"shipped"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAssign(t *testing.T) {
	s := newTestServer(t)
	created := decode[placement](t, s.do(http.MethodPost, "/orders", chennaiOrder))
	require.Equal(t, "pending", created.Assignment)

	rec := s.do(http.MethodPost, "/orders/"+created.Order.ID+"/assign", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode[placement](t, rec).Assignment)

	partner := s.addPartner(t, "Chennai")

	rec = s.do(http.MethodPost, "/orders/"+created.Order.ID+"/assign", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[placement](t, rec)
	assert.Equal(t, "assigned", resp.Assignment)
	require.NotNil(t, resp.Order.AssignedPartnerID)
	assert.Equal(t, partner.ID, *resp.Order.AssignedPartnerID)

	rec = s.do(http.MethodPost, "/orders/"+created.Order.ID+"/assign", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/orders/missing/assign", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

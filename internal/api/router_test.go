package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/cache"
	"github.com/safar/flycar/internal/config"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/inventory"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/quote"
	"github.com/safar/flycar/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWT = config.JWTConfig{Secret: "router-secret", Issuer: "flycar", TTL: time.Hour}

type fakeUnits struct{}

func (fakeUnits) GetUnit(_ context.Context, id uuid.UUID) (*inventory.UnitView, error) {
	return nil, database.ErrUnitNotFound
}

func (fakeUnits) ListUnits(_ context.Context, availability models.Availability, page, pageSize int) (*store.OffsetPage, error) {
	return &store.OffsetPage{Items: []inventory.UnitView{}, Page: page, PageSize: pageSize}, nil
}

func (fakeUnits) SetDisabled(_ context.Context, id uuid.UUID, disabled bool) (*inventory.UnitView, error) {
	return &inventory.UnitView{InventoryUnit: models.InventoryUnit{ID: id, Availability: models.AvailabilityDisabled}}, nil
}

// fakeQuotes never validates carts itself, so anything rejected with 400
// was rejected by request decoding.
type fakeQuotes struct {
	mu           sync.Mutex
	calls        int
	accessoryFor *uuid.UUID
}

func (f *fakeQuotes) Accessories(_ context.Context, modelID *uuid.UUID) ([]quote.AccessoryView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessoryFor = modelID
	view := quote.AccessoryView{Accessory: models.Accessory{ID: uuid.New(), Name: "Roof rack", Enabled: true}}
	if modelID != nil {
		price := decimal.RequireFromString("450.00")
		view.ModelID = modelID
		view.ListPrice = &price
		view.Price = &price
	}
	return []quote.AccessoryView{view}, nil
}

func (f *fakeQuotes) Simulate(_ context.Context, cart quote.Cart) (*quote.Simulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &quote.Simulation{Total: decimal.RequireFromString("25000.00")}, nil
}

func (f *fakeQuotes) Generate(_ context.Context, actor auth.Identity, cart quote.Cart, customerID *uuid.UUID) (*models.Quotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &models.Quotation{ID: uuid.New(), CustomerID: *actor.CustomerID}, nil
}

func (*fakeQuotes) Get(context.Context, auth.Identity, uuid.UUID) (*models.Quotation, error) {
	return nil, database.ErrQuotationNotFound
}

func (*fakeQuotes) List(context.Context, auth.Identity, string, int) (*store.CursorPage, error) {
	return &store.CursorPage{Items: []models.Quotation{}}, nil
}

type fakeReservations struct {
	mu    sync.Mutex
	calls int
	err   error

	// When set, Create signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeReservations) Create(_ context.Context, _ auth.Identity, quotationID uuid.UUID) (*models.Reservation, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.Reservation{ID: uuid.New(), QuotationID: quotationID, State: models.ReservationActive}, nil
}

func (f *fakeReservations) Cancel(context.Context, auth.Identity, uuid.UUID) (*models.Reservation, error) {
	return nil, database.ErrReservationNotActive
}

func (f *fakeReservations) Get(context.Context, auth.Identity, uuid.UUID) (*models.Reservation, error) {
	return nil, database.ErrReservationNotFound
}

func (f *fakeReservations) List(context.Context, auth.Identity, string, int) (*store.CursorPage, error) {
	return &store.CursorPage{Items: []models.Reservation{}}, nil
}

type fakeSales struct{}

func (fakeSales) Finalize(context.Context, auth.Identity, uuid.UUID) (*models.Sale, error) {
	return nil, database.ErrQuotationExpired
}

func (fakeSales) Get(context.Context, auth.Identity, uuid.UUID) (*models.Sale, error) {
	return nil, database.ErrSaleNotFound
}

func (fakeSales) List(context.Context, auth.Identity, int, int) (*store.OffsetPage, error) {
	return nil, database.ErrForbidden
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore { return &memoryStore{data: map[string]string{}} }

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func (m *memoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return scope + "|" + id }

type harness struct {
	handler      http.Handler
	quotes       *fakeQuotes
	reservations *fakeReservations
}

func newHarness(idem cache.IdempotencyStore) *harness {
	quotes := &fakeQuotes{}
	reservations := &fakeReservations{}
	return &harness{
		quotes:       quotes,
		reservations: reservations,
		handler: NewRouter(Deps{
			JWT:            testJWT,
			Units:          fakeUnits{},
			Quotes:         quotes,
			Reservations:   reservations,
			Sales:          fakeSales{},
			Idempotency:    idem,
			IdempotencyTTL: time.Hour,
		}),
	}
}

func (h *harness) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, identity auth.Identity) string {
	t.Helper()
	signed, err := auth.MintAccessToken(testJWT, time.Now(), identity)
	require.NoError(t, err)
	return signed
}

func clientToken(t *testing.T) string {
	customerID := uuid.New()
	return token(t, auth.Identity{UserID: uuid.New(), Role: auth.RoleCliente, CustomerID: &customerID})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestSimulateIsPublic(t *testing.T) {
	h := newHarness(nil)

	rec := h.do(t, http.MethodPost, "/api/v1/quotations/simulate", "", map[string]any{
		"lines": []map[string]any{{"unit_id": uuid.New()}},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env struct {
		Data quote.Simulation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "25000.00", env.Data.Total.StringFixed(2))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestSimulateRejectsInvalidCart(t *testing.T) {
	h := newHarness(nil)

	rec := h.do(t, http.MethodPost, "/api/v1/quotations/simulate", "", map[string]any{"lines": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/quotations/simulate", "", map[string]any{"units": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
	assert.Zero(t, h.quotes.calls)
}

func TestAccessoriesArePublic(t *testing.T) {
	h := newHarness(nil)

	rec := h.do(t, http.MethodGet, "/api/v1/accessories", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, h.quotes.accessoryFor)

	modelID := uuid.New()
	rec = h.do(t, http.MethodGet, "/api/v1/accessories?model_id="+modelID.String(), "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, h.quotes.accessoryFor)
	assert.Equal(t, modelID, *h.quotes.accessoryFor)

	var env struct {
		Data []quote.AccessoryView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "Roof rack", env.Data[0].Name)
	assert.Equal(t, "450.00", env.Data[0].Price.StringFixed(2))

	rec = h.do(t, http.MethodGet, "/api/v1/accessories?model_id=sedan", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestCartShapeIsValidatedOnDecode(t *testing.T) {
	h := newHarness(nil)
	line := func() map[string]any { return map[string]any{"unit_id": uuid.New()} }

	tests := []struct {
		name string
		body map[string]any
	}{
		{"too many lines", map[string]any{"lines": []any{line(), line(), line(), line()}}},
		{"missing unit id", map[string]any{"lines": []any{map[string]any{"accessory_ids": []uuid.UUID{uuid.New()}}}}},
		{"nil unit id", map[string]any{"lines": []any{map[string]any{"unit_id": uuid.Nil}}}},
		{"nil accessory id", map[string]any{"lines": []any{map[string]any{"unit_id": uuid.New(), "accessory_ids": []uuid.UUID{uuid.Nil}}}}},
		{"too many accessories", map[string]any{"lines": []any{map[string]any{"unit_id": uuid.New(), "accessory_ids": make([]uuid.UUID, 11)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/quotations/simulate", "", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

			rec = h.do(t, http.MethodPost, "/api/v1/quotations", clientToken(t), tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, h.quotes.calls)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(nil)

	rec := h.do(t, http.MethodGet, "/api/v1/quotations", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/quotations", "not-a-jwt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/quotations", clientToken(t), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnitAdministrationRequiresAdmin(t *testing.T) {
	h := newHarness(nil)
	path := "/api/v1/units/" + uuid.NewString() + "/disable"

	rec := h.do(t, http.MethodPost, path, clientToken(t), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := token(t, auth.Identity{UserID: uuid.New(), Role: auth.RoleAdministrador})
	rec = h.do(t, http.MethodPost, path, admin, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(nil)
	seller := token(t, auth.Identity{UserID: uuid.New(), Role: auth.RoleVendedor, SellerID: ptr(uuid.New())})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
		code   string
	}{
		{"bad id", http.MethodGet, "/api/v1/units/nope", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing unit", http.MethodGet, "/api/v1/units/" + uuid.NewString(), "", http.StatusNotFound, "NOT_FOUND"},
		{"expired quotation", http.MethodPost, "/api/v1/quotations/" + uuid.NewString() + "/sale", seller, http.StatusGone, "EXPIRED"},
		{"inactive reservation", http.MethodPost, "/api/v1/reservations/" + uuid.NewString() + "/cancel", seller, http.StatusConflict, "CONFLICT"},
		{"forbidden listing", http.MethodGet, "/api/v1/sales", seller, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.token, nil, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestPaymentDeclinedStatus(t *testing.T) {
	h := newHarness(nil)
	h.reservations.err = database.ErrPaymentDeclined

	rec := h.do(t, http.MethodPost, "/api/v1/quotations/"+uuid.NewString()+"/reservation", clientToken(t), nil, nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "PAYMENT_DECLINED", errorCode(t, rec))
}

func TestIdempotentReservationReplays(t *testing.T) {
	h := newHarness(newMemoryStore())
	client := clientToken(t)
	path := "/api/v1/quotations/" + uuid.NewString() + "/reservation"
	headers := map[string]string{idempotencyHeader: "key-1"}

	first := h.do(t, http.MethodPost, path, client, nil, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := h.do(t, http.MethodPost, path, client, nil, headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, h.reservations.calls)

	h.do(t, http.MethodPost, path, client, nil, map[string]string{idempotencyHeader: "key-2"})
	assert.Equal(t, 2, h.reservations.calls)
}

func TestIdempotencyKeyReuseWithDifferentBody(t *testing.T) {
	h := newHarness(newMemoryStore())
	client := clientToken(t)
	path := "/api/v1/quotations/" + uuid.NewString() + "/reservation"
	headers := map[string]string{idempotencyHeader: "key-1"}

	h.do(t, http.MethodPost, path, client, nil, headers)
	rec := h.do(t, http.MethodPost, path, client, map[string]string{"note": "changed"}, headers)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", errorCode(t, rec))
	assert.Equal(t, 1, h.reservations.calls)
}

func TestIdempotencyScopedToCaller(t *testing.T) {
	h := newHarness(newMemoryStore())
	path := "/api/v1/quotations/" + uuid.NewString() + "/reservation"
	headers := map[string]string{idempotencyHeader: "shared"}

	h.do(t, http.MethodPost, path, clientToken(t), nil, headers)
	h.do(t, http.MethodPost, path, clientToken(t), nil, headers)
	assert.Equal(t, 2, h.reservations.calls)
}

func TestConcurrentDuplicateIsRejectedWhileInFlight(t *testing.T) {
	h := newHarness(newMemoryStore())
	h.reservations.entered = make(chan struct{})
	h.reservations.release = make(chan struct{})
	client := clientToken(t)
	path := "/api/v1/quotations/" + uuid.NewString() + "/reservation"
	headers := map[string]string{idempotencyHeader: "key-1"}

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- h.do(t, http.MethodPost, path, client, nil, headers) }()
	<-h.reservations.entered

	dup := h.do(t, http.MethodPost, path, client, nil, headers)
	assert.Equal(t, http.StatusConflict, dup.Code, dup.Body.String())
	assert.Equal(t, "CONFLICT", errorCode(t, dup))

	changed := h.do(t, http.MethodPost, path, client, map[string]string{"note": "changed"}, headers)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", errorCode(t, changed))

	close(h.reservations.release)
	rec := <-first
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	again := h.do(t, http.MethodPost, path, client, nil, headers)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, rec.Body.String(), again.Body.String())
	assert.Equal(t, 1, h.reservations.calls)
}

func TestServerErrorReleasesIdempotencyKey(t *testing.T) {
	h := newHarness(newMemoryStore())
	h.reservations.err = errors.New("processor exploded")
	client := clientToken(t)
	path := "/api/v1/quotations/" + uuid.NewString() + "/reservation"
	headers := map[string]string{idempotencyHeader: "key-1"}

	rec := h.do(t, http.MethodPost, path, client, nil, headers)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	h.reservations.err = nil
	rec = h.do(t, http.MethodPost, path, client, nil, headers)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 2, h.reservations.calls)
}

func TestCanceledRequestIsUnavailable(t *testing.T) {
	h := newHarness(nil)
	h.reservations.err = fmt.Errorf("create reservation: %w", context.Canceled)

	rec := h.do(t, http.MethodPost, "/api/v1/quotations/"+uuid.NewString()+"/reservation", clientToken(t), nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DEPENDENCY_ERROR", errorCode(t, rec))
}

func TestHealth(t *testing.T) {
	h := newHarness(nil)
	rec := h.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func ptr[T any](v T) *T { return &v }

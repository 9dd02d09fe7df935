package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	pkgredis "github.com/angelmondragon/warehouse-allocator/pkg/redis"
)

type stubAuthenticator struct {
	clients map[string]*models.Client
}

func (s stubAuthenticator) Authenticate(_ context.Context, apiKey string) (*models.Client, error) {
	if c, ok := s.clients[apiKey]; ok {
		return c, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
}

func okHandler(t *testing.T, seen *uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = ClientIDFromContext(r.Context())
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAPIKeySeedsClientContext(t *testing.T) {
	client := &models.Client{ID: uuid.New(), Name: "acme"}
	auth := stubAuthenticator{clients: map[string]*models.Client{"pfx.secret": client}}

	var seen uuid.UUID
	h := APIKey(auth, logger.Nop())(okHandler(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(apiKeyHeader, "pfx.secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, client.ID, seen)
}

func TestAPIKeyRejectsMissingAndInvalidKeys(t *testing.T) {
	h := APIKey(stubAuthenticator{}, logger.Nop())(okHandler(t, nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(apiKeyHeader, "pfx.wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(nil)(okHandler(t, nil))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithClient(req.Context(), uuid.New(), false))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = req.WithContext(WithClient(req.Context(), uuid.New(), true))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type fakeWindow struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeWindow) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (pkgredis.RateWindow, error) {
	if f.err != nil {
		return pkgredis.RateWindow{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	return pkgredis.RateWindow{
		Allowed: f.counts[scope] <= limit,
		Count:   f.counts[scope],
		ResetIn: 1500 * time.Millisecond,
	}, nil
}

func TestClientRateLimitBlocksPerClient(t *testing.T) {
	store := &fakeWindow{}
	policy := RateLimitPolicy{Name: "writes", Window: time.Minute, Limit: 2}
	h := ClientRateLimit(policy, store, logger.Nop())(okHandler(t, nil))

	first, second := uuid.New(), uuid.New()
	send := func(client uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithClient(req.Context(), client, false))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send(first).Code)
	assert.Equal(t, http.StatusNoContent, send(first).Code)
	blocked := send(first)
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "2", blocked.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send(second).Code)
}

func TestRetryAfterSecondsFallsBackToWindow(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(10*time.Millisecond, time.Minute))
	assert.Equal(t, 60, retryAfterSeconds(0, time.Minute))
	assert.Equal(t, 60, retryAfterSeconds(2*time.Minute, time.Minute))
}

func TestClientRateLimitStoreFailure(t *testing.T) {
	policy := RateLimitPolicy{Name: "writes", Window: time.Minute, Limit: 2}
	h := ClientRateLimit(policy, &fakeWindow{err: errors.New("redis down")}, nil)(okHandler(t, nil))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithClient(req.Context(), uuid.New(), false))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	h := ClientRateLimit(RateLimitPolicy{}, &fakeWindow{err: errors.New("unused")}, nil)(okHandler(t, nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDPropagatesOrGenerates(t *testing.T) {
	h := RequestID(logger.Nop())(okHandler(t, nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
	assert.NoError(t, err)
}

func TestRecovererWritesInternalError(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type memoryIdempotencyStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{values: map[string]string{}}
}

func (m *memoryIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "allocator:idem:" + scope + ":" + id
}

func (m *memoryIdempotencyStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func idempotentRouter(store *memoryIdempotencyStore, status int, calls *int) http.Handler {
	r := chi.NewRouter()
	r.Use(Idempotency(store, time.Hour, logger.Nop()))
	handler := func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"data":{"n":` + string(rune('0'+*calls)) + `}}`))
	}
	r.Post("/api/v1/orders", handler)
	r.Post("/api/v1/orders/{orderId}/ship", handler)
	r.Get("/api/v1/products", handler)
	return r
}

func idempotentRequest(method, path, key, body string, client uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req.WithContext(WithClient(req.Context(), client, false))
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := idempotentRouter(store, http.StatusCreated, &calls)
	client := uuid.New()

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{"items":{"A":1}}`, client))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{"items":{"A":1}}`, client))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotentReplayHeader))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := idempotentRouter(store, http.StatusCreated, &calls)
	client := uuid.New()

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{"items":{"A":1}}`, client))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{"items":{"A":2}}`, client))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyKeysAreScopedPerClientAndPath(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := idempotentRouter(store, http.StatusOK, &calls)

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{}`, uuid.New()))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{}`, uuid.New()))

	orderA, orderB := uuid.NewString(), uuid.NewString()
	client := uuid.New()
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders/"+orderA+"/ship", "k2", "", client))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders/"+orderB+"/ship", "k2", "", client))

	assert.Equal(t, 4, calls)
}

func TestIdempotencySkipsRequestsWithoutKeyOrOutsideRules(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := idempotentRouter(store, http.StatusOK, &calls)
	client := uuid.New()

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders", "", `{}`, client))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders", "", `{}`, client))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodGet, "/api/v1/products", "k3", "", client))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodGet, "/api/v1/products", "k3", "", client))

	assert.Equal(t, 4, calls)
	assert.Empty(t, store.values)
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := idempotentRouter(store, http.StatusServiceUnavailable, &calls)
	client := uuid.New()

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{}`, client))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{}`, client))

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.values)
}

func TestIdempotencyRefusesConcurrentRepeat(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := idempotentRouter(store, http.StatusCreated, &calls)
	client := uuid.New()

	req := idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{}`, client)
	inFlight := store.IdempotencyKey(idempotencyScope(req), "k1") + ":inflight"
	store.values[inFlight] = "other"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, calls)
	assert.Contains(t, rec.Body.String(), "IDEMPOTENCY_KEY_REUSED")
}

func TestIdempotencyReleasesClaimAfterRequest(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := idempotentRouter(store, http.StatusCreated, &calls)

	req := idempotentRequest(http.MethodPost, "/api/v1/orders", "k1", `{}`, uuid.New())
	key := store.IdempotencyKey(idempotencyScope(req), "k1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, store.values, key)
	assert.NotContains(t, store.values, key+":inflight")
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	h := idempotentRouter(store, http.StatusCreated, &calls)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(http.MethodPost, "/api/v1/orders", strings.Repeat("k", maxIdempotencyKeyLen+1), `{}`, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, calls)
}

func TestRequestIDRejectsControlCharacters(t *testing.T) {
	assert.True(t, validRequestID("abc-123"))
	assert.False(t, validRequestID("abc 123"))
	assert.False(t, validRequestID("abc\n123"))
	assert.False(t, validRequestID(""))
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	h := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingRecordsRouteAndStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Format: logger.FormatJSON, Output: buf})

	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Get("/api/v1/orders/{orderId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString(), nil))

	out := buf.String()
	assert.Contains(t, out, `"route":"/api/v1/orders/{orderId}"`)
	assert.Contains(t, out, `"status":503`)
	assert.Contains(t, out, "request.failed")
}

package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/warehouse-allocator/api/responses"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
	pkgredis "github.com/angelmondragon/warehouse-allocator/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	idempotentReplayHeader = "Idempotent-Replayed"
	defaultIdempotencyTTL  = 24 * time.Hour
	inFlightTTL            = 30 * time.Second
	maxIdempotencyKeyLen   = 255
)

// idempotentRoutes are the writes whose responses are replayed for a
// repeated Idempotency-Key. Segments in braces match any non-empty value.
var idempotentRoutes = []routePattern{
	newRoutePattern(http.MethodPost, "/api/v1/orders"),
	newRoutePattern(http.MethodPost, "/api/v1/orders/{orderId}/ship"),
	newRoutePattern(http.MethodPost, "/api/v1/orders/{orderId}/cancel"),
	newRoutePattern(http.MethodPost, "/api/admin/v1/stock/restock"),
	newRoutePattern(http.MethodPost, "/api/admin/v1/reoptimize"),
}

type routePattern struct {
	method   string
	segments []string
}

func newRoutePattern(method, path string) routePattern {
	return routePattern{method: method, segments: pathSegments(path)}
}

func (p routePattern) match(method string, segments []string) bool {
	if p.method != method || len(p.segments) != len(segments) {
		return false
	}
	for i, want := range p.segments {
		if isPlaceholder(want) {
			if segments[i] == "" {
				return false
			}
		} else if want != segments[i] {
			return false
		}
	}
	return true
}

func isPlaceholder(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

func pathSegments(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func isIdempotentRoute(method, path string) bool {
	segments := pathSegments(path)
	for _, p := range idempotentRoutes {
		if p.match(method, segments) {
			return true
		}
	}
	return false
}

// storedResponse is what a finished request leaves behind under its key.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the stored response when a client repeats a write with
// the same Idempotency-Key and body.
//
// A reused key with a different body is rejected, as is a repeat that
// arrives while the first request is still running. Requests without the
// header pass through. Server errors are not stored so the client can retry.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || !isIdempotentRoute(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxIdempotencyKeyLen {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key is too long").
					WithDetails(map[string]any{"maxLength": maxIdempotencyKeyLen}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(idempotencyScope(r), clientKey)
			guard := idempotencyGuard{store: store, key: key, hash: hashBody(body), logg: logg}

			replayed, err := guard.replay(r.Context(), w)
			if err != nil || replayed {
				if err != nil {
					responses.WriteError(r.Context(), logg, w, err)
				}
				return
			}
			if err := guard.claim(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			defer guard.release(r.Context())

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			guard.remember(r.Context(), capture, ttl)
		})
	}
}

type idempotencyGuard struct {
	store pkgredis.IdempotencyStore
	key   string
	hash  string
	logg  *logger.Logger
}

func (g idempotencyGuard) inFlightKey() string {
	return g.key + ":inflight"
}

// replay writes the stored response, if any, and reports whether it did.
func (g idempotencyGuard) replay(ctx context.Context, w http.ResponseWriter) (bool, error) {
	raw, err := g.store.Get(ctx, g.key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	if stored.RequestHash != g.hash {
		return false, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
	}

	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(idempotentReplayHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
	return true, nil
}

// claim marks the key as in flight so a concurrent repeat is refused
// instead of running the write twice.
func (g idempotencyGuard) claim(ctx context.Context) error {
	ok, err := g.store.SetNX(ctx, g.inFlightKey(), g.hash, inFlightTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress")
	}
	return nil
}

func (g idempotencyGuard) release(ctx context.Context) {
	if err := g.store.Del(context.WithoutCancel(ctx), g.inFlightKey()); err != nil {
		logError(ctx, g.logg, "release idempotency key", err)
	}
}

func (g idempotencyGuard) remember(ctx context.Context, capture *responseCapture, ttl time.Duration) {
	status := capture.statusOrOK()
	if status >= http.StatusInternalServerError {
		return
	}
	payload, err := json.Marshal(storedResponse{
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
		RequestHash: g.hash,
	})
	if err != nil {
		logError(ctx, g.logg, "marshal idempotency record", err)
		return
	}
	if _, err := g.store.SetNX(context.WithoutCancel(ctx), g.key, string(payload), ttl); err != nil {
		logError(ctx, g.logg, "persist idempotency record", err)
	}
}

// idempotencyScope ties a key to the client and the concrete path so two
// clients cannot collide on the same key.
func idempotencyScope(r *http.Request) string {
	return ClientIDFromContext(r.Context()).String() + "|" + r.Method + "|" + r.URL.Path
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}

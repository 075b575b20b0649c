package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/marchand/paygate/internal/handler"
	"github.com/marchand/paygate/internal/logging"
)

const idempotencyTTL = 24 * time.Hour

type cachedResponse struct {
	requestHash string
	statusCode  int
	body        []byte
	expiresAt   time.Time
}

// ReplayCache stores responses to requests that carried an Idempotency-Key
// header so a client-side retry of a purchase replays the original outcome
// instead of executing twice.
type ReplayCache struct {
	mu      sync.Mutex
	entries map[string]*cachedResponse
}

func NewReplayCache() *ReplayCache {
	return &ReplayCache{entries: make(map[string]*cachedResponse)}
}

func (c *ReplayCache) get(key string) *cachedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *ReplayCache) set(key string, e *cachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
}

// Idempotency replays cached responses for repeated writes bearing the same
// Idempotency-Key. The key is optional: requests without one pass through
// untouched, matching the option model where the idempotency key is the
// caller's opt-in. A reused key with a different request body is rejected.
func Idempotency(cache *ReplayCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			reqHash := computeHash(r.Method, r.URL.Path, body)
			cacheKey := r.URL.Path + "\x00" + key

			if cached := cache.get(cacheKey); cached != nil {
				if cached.requestHash != reqHash {
					handler.RespondAppError(w, &handler.AppError{
						Status:  http.StatusConflict,
						Code:    "IDEMPOTENCY_CONFLICT",
						Message: "Idempotency key already used with a different request",
					}, nil)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotent-Replayed", "true")
				w.WriteHeader(cached.statusCode)
				if _, err := w.Write(cached.body); err != nil {
					logging.FromContext(r.Context()).Error("failed to write idempotent replay", "error", err, "idempotency_key", key)
				}
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			cache.set(cacheKey, &cachedResponse{
				requestHash: reqHash,
				statusCode:  rec.statusCode,
				body:        rec.body.Bytes(),
				expiresAt:   time.Now().Add(idempotencyTTL),
			})
		})
	}
}

func computeHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return fmt.Sprintf("%x", h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

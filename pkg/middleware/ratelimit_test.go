package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_PerKeyBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys must not share a bucket")
}

func TestRateLimiter_ConcurrentSameKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 5, time.Minute)
	defer rl.Stop()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), allowed.Load())
}

func TestRateLimiter_MiddlewareOnlyCountsMutations(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, time.Minute)
	defer rl.Stop()
	h := rl.Middleware(func(r *http.Request) string { return r.Header.Get("X-User-ID") }, discardLogger())(okHandler())

	send := func(method string) int {
		req := httptest.NewRequest(method, "/api/v1/cart/items", nil)
		req.Header.Set("X-User-ID", "u1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(http.MethodPost))
	assert.Equal(t, http.StatusTooManyRequests, send(http.MethodPost))
	assert.Equal(t, http.StatusOK, send(http.MethodGet))
}

func TestRateLimiter_EmptyKeySkips(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, time.Minute)
	defer rl.Stop()
	h := rl.Middleware(func(*http.Request) string { return "" }, discardLogger())(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_CleanupEvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("a")
	assert.Equal(t, 1, rl.len())

	rl.now = func() time.Time { return now.Add(2 * time.Minute) }
	rl.cleanup()
	assert.Equal(t, 0, rl.len())
}

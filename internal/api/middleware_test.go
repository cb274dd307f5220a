package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/allinconverter/aic-core/internal/audit"
	"github.com/allinconverter/aic-core/internal/config"
	"github.com/allinconverter/aic-core/internal/metrics"
	"github.com/allinconverter/aic-core/internal/queue"
	"github.com/allinconverter/aic-core/internal/ratelimit"
)

// tightEnv builds a server whose status class admits only two requests per
// window, to exercise the limiter middleware end to end.
func tightEnv(t *testing.T, failOpen bool) (*testEnv, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Config{
		MaxUploadBytes:     512 * 1024 * 1024,
		DownloadTTLSec:     300,
		AdminAPIKey:        "test-admin-key",
		CORSAllowedOrigins: []string{"*"},
	}
	limits := map[ratelimit.Class]int{
		ratelimit.Convert:  10,
		ratelimit.Download: 20,
		ratelimit.API:      30,
		ratelimit.Status:   2,
	}
	jobs := queue.New(rdb)
	store := &fakeStore{}
	limiter := ratelimit.New(rdb, zap.NewNop(), time.Minute, limits, failOpen)
	rec := metrics.NewRecorder(rdb, jobs, time.Now())
	srv := NewServer(cfg, zap.NewNop(), jobs, store, limiter, rec, audit.NewZapLog(zap.NewNop()))
	return &testEnv{srv: srv.Routes(), jobs: jobs, store: store, mr: mr}, mr
}

func statusReq(ip, ua string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/status/nope", nil)
	req.Header.Set("X-Forwarded-For", ip)
	req.Header.Set("User-Agent", ua)
	return req
}

func TestRateLimitMiddlewareRejectsOverCeiling(t *testing.T) {
	env, _ := tightEnv(t, true)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		env.srv.ServeHTTP(w, statusReq("9.9.9.9", "polling-client"))
		// Requests pass the limiter and 404 on the unknown job.
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(2-i-1), w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, statusReq("9.9.9.9", "polling-client"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Too many requests", body["error"])
	assert.NotZero(t, body["retryAfter"])
}

func TestRateLimitMiddlewareKeysOnClientIdentity(t *testing.T) {
	env, _ := tightEnv(t, true)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		env.srv.ServeHTTP(w, statusReq("9.9.9.9", "polling-client"))
		require.Equal(t, http.StatusNotFound, w.Code)
	}
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, statusReq("9.9.9.9", "polling-client"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// A different client is unaffected.
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, statusReq("8.8.8.8", "polling-client"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimitFailsOpenWhenBrokerDown(t *testing.T) {
	env, mr := tightEnv(t, true)
	mr.Close()

	// The status handler needs Redis too, so exercise fail-open on the
	// health route's sibling: a download with missing params short-circuits
	// before touching the broker.
	req := httptest.NewRequest(http.MethodGet, "/api/download", nil)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	// Limiter failed open; the handler's own 400 is reached.
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitFailsClosedWhenConfigured(t *testing.T) {
	env, mr := tightEnv(t, false)
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/download", nil)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)

	// No credentials.
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong token.
	req := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Not a bearer scheme.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	req.Header.Set("Authorization", "Basic dGVzdA==")
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct token.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	req.Header.Set("Authorization", "Bearer test-admin-key")
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Len(t, snap.Queues, 4)
}

func adminAction(t *testing.T, env *testEnv, action string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/metrics", strings.NewReader(`{"action":"`+action+`"}`))
	req.Header.Set("Authorization", "Bearer test-admin-key")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	return w
}

func TestAdminActions(t *testing.T) {
	env := newTestEnv(t)

	env.mr.Lpush("job:performance", `{"duration":1200}`)
	w := adminAction(t, env, "clear_metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.mr.Exists("job:performance"))

	// Idempotent.
	w = adminAction(t, env, "clear_metrics")
	assert.Equal(t, http.StatusOK, w.Code)

	env.mr.Lpush(queue.DocQueue, "desc")
	env.mr.Lpush(queue.ImgQueue+":failed", "x")
	w = adminAction(t, env, "reset_queues")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.mr.Exists(queue.DocQueue))
	assert.False(t, env.mr.Exists(queue.ImgQueue+":failed"))

	w = adminAction(t, env, "reset_queues")
	assert.Equal(t, http.StatusOK, w.Code)

	w = adminAction(t, env, "drop_everything")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminActionRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	env.mr.Lpush("job:performance", `{"duration":1200}`)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/metrics", strings.NewReader(`{"action":"clear_metrics"}`))
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	// 401 happened before any side effect.
	assert.True(t, env.mr.Exists("job:performance"))
}

func TestClientIdentityHeaderPrecedence(t *testing.T) {
	assert.Equal(t, "1.1.1.1", clientIP(&http.Request{
		Header:     http.Header{"X-Forwarded-For": {"1.1.1.1, 2.2.2.2"}, "X-Real-Ip": {"3.3.3.3"}},
		RemoteAddr: "4.4.4.4:1234",
	}))
	assert.Equal(t, "3.3.3.3", clientIP(&http.Request{
		Header:     http.Header{"X-Real-Ip": {"3.3.3.3"}},
		RemoteAddr: "4.4.4.4:1234",
	}))
	assert.Equal(t, "5.5.5.5", clientIP(&http.Request{
		Header:     http.Header{"Cf-Connecting-Ip": {"5.5.5.5"}},
		RemoteAddr: "4.4.4.4:1234",
	}))
	assert.Equal(t, "4.4.4.4", clientIP(&http.Request{
		Header:     http.Header{},
		RemoteAddr: "4.4.4.4:1234",
	}))
}

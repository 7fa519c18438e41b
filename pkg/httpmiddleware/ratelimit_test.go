package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type limitedRequest struct {
	path       string
	remoteAddr string
	header     map[string]string
	want       int
}

func TestRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		cfg      RateLimitConfig
		requests []limitedRequest
	}{
		{
			name: "under limit",
			cfg:  RateLimitConfig{Max: 3, Window: time.Minute},
			requests: []limitedRequest{
				{remoteAddr: "192.168.1.1:1", want: http.StatusOK},
				{remoteAddr: "192.168.1.1:2", want: http.StatusOK},
				{remoteAddr: "192.168.1.1:3", want: http.StatusOK},
			},
		},
		{
			name: "over limit",
			cfg:  RateLimitConfig{Max: 2, Window: time.Minute},
			requests: []limitedRequest{
				{remoteAddr: "10.0.0.1:1", want: http.StatusOK},
				{remoteAddr: "10.0.0.1:1", want: http.StatusOK},
				{remoteAddr: "10.0.0.1:1", want: http.StatusTooManyRequests},
			},
		},
		{
			name: "independent ips",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute},
			requests: []limitedRequest{
				{remoteAddr: "10.0.0.1:1", want: http.StatusOK},
				{remoteAddr: "10.0.0.2:1", want: http.StatusOK},
				{remoteAddr: "10.0.0.1:2", want: http.StatusTooManyRequests},
			},
		},
		{
			name: "trusted proxy keys by first forwarded hop",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute, TrustProxy: true},
			requests: []limitedRequest{
				{remoteAddr: "192.168.1.1:1", header: map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, want: http.StatusOK},
				{remoteAddr: "192.168.1.2:1", header: map[string]string{"X-Forwarded-For": "203.0.113.50"}, want: http.StatusTooManyRequests},
				{remoteAddr: "192.168.1.2:1", header: map[string]string{"X-Real-IP": "198.51.100.7"}, want: http.StatusOK},
			},
		},
		{
			name: "forwarded headers ignored without trusted proxy",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute},
			requests: []limitedRequest{
				{remoteAddr: "192.168.1.1:1", header: map[string]string{"X-Forwarded-For": "203.0.113.1"}, want: http.StatusOK},
				{remoteAddr: "192.168.1.1:2", header: map[string]string{"X-Forwarded-For": "203.0.113.2"}, want: http.StatusTooManyRequests},
			},
		},
		{
			name: "custom key",
			cfg: RateLimitConfig{Max: 1, Window: time.Minute, KeyFunc: func(r *http.Request) string {
				return r.Header.Get("X-API-Key")
			}},
			requests: []limitedRequest{
				{header: map[string]string{"X-API-Key": "a"}, want: http.StatusOK},
				{header: map[string]string{"X-API-Key": "a"}, want: http.StatusTooManyRequests},
				{header: map[string]string{"X-API-Key": "b"}, want: http.StatusOK},
			},
		},
		{
			name: "skipped paths",
			cfg:  RateLimitConfig{Max: 1, Window: time.Minute, Skip: SkipPaths("/livez", "/readyz")},
			requests: []limitedRequest{
				{path: "/livez", remoteAddr: "10.0.0.9:1", want: http.StatusOK},
				{path: "/readyz", remoteAddr: "10.0.0.9:1", want: http.StatusOK},
				{path: "/api/products", remoteAddr: "10.0.0.9:1", want: http.StatusOK},
				{path: "/api/products", remoteAddr: "10.0.0.9:1", want: http.StatusTooManyRequests},
				{path: "/livez", remoteAddr: "10.0.0.9:1", want: http.StatusOK},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RateLimit(tt.cfg)(okHandler())
			for i, lr := range tt.requests {
				path := lr.path
				if path == "" {
					path = "/"
				}
				req := httptest.NewRequest(http.MethodGet, path, nil)
				if lr.remoteAddr != "" {
					req.RemoteAddr = lr.remoteAddr
				}
				for k, v := range lr.header {
					req.Header.Set(k, v)
				}
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)
				assert.Equal(t, lr.want, w.Code, "request %d", i+1)
			}
		})
	}
}

func TestRateLimit_LimitedResponse(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.1.1:1"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	first := send()
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	w := send()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var code int
	var kind string
	err := jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "code":
			v, err := d.Int()
			code = v
			return err
		case "error":
			v, err := d.Str()
			kind = v
			return err
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 429, code)
	assert.Equal(t, "rate_limited", kind)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	start := time.Unix(6000, 0) // bucket boundary
	now := start
	rl.now = func() time.Time { return now }

	now = start.Add(50 * time.Second)
	assert.True(t, rl.take("k").allowed)
	assert.True(t, rl.take("k").allowed)
	assert.False(t, rl.take("k").allowed)

	// Next bucket: 5/6 of the previous two still count.
	now = start.Add(70 * time.Second)
	d := rl.take("k")
	assert.True(t, d.allowed)
	assert.Equal(t, 0, d.remaining)
	assert.Equal(t, start.Add(2*time.Minute), d.reset)
	assert.False(t, rl.take("k").allowed)

	// Late in the bucket the previous one has almost slid out.
	now = start.Add(115 * time.Second)
	assert.True(t, rl.take("k").allowed)

	// A gap longer than a window forgets everything.
	now = start.Add(10 * time.Minute)
	d = rl.take("k")
	assert.True(t, d.allowed)
	assert.Equal(t, 1, d.remaining)
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Second})
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	require.True(t, rl.take("idle").allowed)
	now = now.Add(1500 * time.Millisecond)
	require.True(t, rl.take("busy").allowed)

	rl.evict(time.Unix(1002, 0))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.windows, "idle")
	assert.Contains(t, rl.windows, "busy")
}

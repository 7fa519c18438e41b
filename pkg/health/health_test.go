package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type probeBody struct {
	status string
	checks map[string]string
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) probeBody {
	t.Helper()
	body := probeBody{checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			s, err := d.Str()
			body.status = s
			return err
		case "checks":
			return d.ObjBytes(func(d *jx.Decoder, name []byte) error {
				msg, err := d.Str()
				body.checks[string(name)] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return body
}

// drive runs every check of kind n times synchronously.
func drive(h *Health, kind Kind, n int) {
	for _, c := range h.checks[kind] {
		for range n {
			c.run(context.Background())
		}
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		runs       int
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "all passing",
			checks:     map[string]CheckFunc{"a": passing, "b": passing},
			runs:       3,
			wantCode:   http.StatusOK,
			wantStatus: statusOK,
		},
		{
			name:       "below failure threshold",
			checks:     map[string]CheckFunc{"db": failing("refused")},
			runs:       2,
			wantCode:   http.StatusOK,
			wantStatus: statusOK,
		},
		{
			name:       "failing",
			checks:     map[string]CheckFunc{"db": failing("refused"), "ok": passing},
			runs:       3,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: statusUnhealthy,
			wantChecks: map[string]string{"db": "refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for name, fn := range tt.checks {
				h.Register(Liveness, name, fn)
			}
			drive(h, Liveness, tt.runs)

			w := httptest.NewRecorder()
			h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			body := decodeBody(t, w)
			assert.Equal(t, tt.wantStatus, body.status)
			for name, msg := range tt.wantChecks {
				assert.Equal(t, msg, body.checks[name])
			}
		})
	}
}

func TestReadyEndpointGate(t *testing.T) {
	h := New()
	h.Register(Readiness, "postgres", passing)

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decodeBody(t, w).checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	w = httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.IsReady())
}

func TestOptionalCheckDegrades(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(Readiness, "postgres", passing)
	h.Register(Readiness, "redis", failing("timeout"), Optional(), WithThresholds(1, 1))
	drive(h, Readiness, 1)

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, statusDegraded, body.status)
	assert.Equal(t, "timeout", body.checks["redis"])
	assert.True(t, h.IsReady())
}

func TestCheckRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	h := New()
	h.Register(Liveness, "flaky", func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(2, 2))

	c := h.checks[Liveness][0]
	c.run(context.Background())
	assert.True(t, c.healthy.Load())
	c.run(context.Background())
	assert.False(t, c.healthy.Load())

	fail.Store(false)
	c.run(context.Background())
	assert.False(t, c.healthy.Load(), "needs two successes")
	c.run(context.Background())
	assert.True(t, c.healthy.Load())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Register(Liveness, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(10*time.Millisecond), WithThresholds(1, 1))

	drive(h, Liveness, 1)
	assert.False(t, h.checks[Liveness][0].healthy.Load())
}

func TestStartStop(t *testing.T) {
	var runs atomic.Int32
	h := New()
	h.Register(Liveness, "count", func(context.Context) error {
		runs.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestBacklogCheck(t *testing.T) {
	ctx := context.Background()
	count := func(n int, err error) func(context.Context) (int, error) {
		return func(context.Context) (int, error) { return n, err }
	}

	require.NoError(t, BacklogCheck(count(10, nil), 10)(ctx))
	require.Error(t, BacklogCheck(count(11, nil), 10)(ctx))
	require.Error(t, BacklogCheck(count(0, errors.New("db")), 10)(ctx))
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

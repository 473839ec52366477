package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/rate"
)

const treeBody = `{"type":"ROOT","id":0,"children":[{"type":"EVENT_TYPE","id":7}]}`

// scripted answers with the given statuses in order, then 200 + treeBody.
type scripted struct {
	statuses []int
	calls    atomic.Int32
}

func (s *scripted) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	n := int(s.calls.Add(1))
	if n <= len(s.statuses) {
		w.WriteHeader(s.statuses[n-1])
		_, _ = w.Write([]byte(`{"error":"scripted"}`))
		return
	}
	_, _ = w.Write([]byte(treeBody))
}

// noSleep records requested backoffs without waiting.
type noSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (n *noSleep) sleep(_ context.Context, d time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waits = append(n.waits, d)
	return nil
}

func newTestExecutor(retryMax int, srv *httptest.Server) (*Executor, *noSleep) {
	ns := &noSleep{}
	e := New(zap.NewNop(), nil, srv.Client(), retryMax, "catalog", nil)
	e.sleep = ns.sleep
	return e, ns
}

func getTree(t *testing.T, e *Executor, url string) (map[string]any, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	var out map[string]any
	err = e.DoJSON(context.Background(), req, "catalog", &out)
	return out, err
}

func TestDoJSON_RetryPolicy(t *testing.T) {
	cases := []struct {
		name       string
		statuses   []int
		retryMax   int
		wantCalls  int32
		wantErr    string
		wantStatus int
	}{
		{name: "first attempt", retryMax: 2, wantCalls: 1},
		{name: "one 503 then ok", statuses: []int{503}, retryMax: 2, wantCalls: 2},
		{name: "two 5xx then ok", statuses: []int{502, 500}, retryMax: 2, wantCalls: 3},
		{name: "exhausted", statuses: []int{500, 500, 500}, retryMax: 2, wantCalls: 3, wantErr: "catalog request failed after 3 attempts"},
		{name: "no retries", statuses: []int{500}, retryMax: 0, wantCalls: 1, wantErr: "failed after 1 attempts"},
		{name: "4xx not retried", statuses: []int{404}, retryMax: 2, wantCalls: 1, wantErr: "catalog returned 404", wantStatus: 404},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &scripted{statuses: tc.statuses}
			srv := httptest.NewServer(h)
			defer srv.Close()

			e, _ := newTestExecutor(tc.retryMax, srv)
			out, err := getTree(t, e, srv.URL)

			assert.Equal(t, tc.wantCalls, h.calls.Load())
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				if tc.wantStatus != 0 {
					assert.True(t, IsStatus(err, tc.wantStatus))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ROOT", out["type"])
		})
	}
}

func TestDoJSON_BackoffSchedule(t *testing.T) {
	srv := httptest.NewServer(&scripted{statuses: []int{500, 500, 500}})
	defer srv.Close()

	e, ns := newTestExecutor(3, srv)
	_, err := getTree(t, e, srv.URL)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{Backoff(0), Backoff(1), Backoff(2)}, ns.waits)
	assert.Equal(t, 500*time.Millisecond, Backoff(9))
}

func TestDoJSON_ReplaysBodyOnRetry(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		first := len(bodies) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e, _ := newTestExecutor(1, srv)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, strings.NewReader(`{"ids":["BTCUSDT.BINANCE"]}`))
	require.NoError(t, err)
	require.NoError(t, e.DoJSON(context.Background(), req, "catalog", nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	for _, b := range bodies {
		assert.JSONEq(t, `{"ids":["BTCUSDT.BINANCE"]}`, b)
	}
}

func TestDoJSON_ErrorHandlerGetsBody(t *testing.T) {
	srv := httptest.NewServer(&scripted{statuses: []int{http.StatusUnauthorized}})
	defer srv.Close()

	errAuth := errors.New("catalog auth rejected")
	var gotBody string
	e := New(nil, nil, srv.Client(), 2, "catalog", func(status int, body []byte) error {
		gotBody = string(body)
		if status == http.StatusUnauthorized {
			return errAuth
		}
		return nil
	})

	_, err := getTree(t, e, srv.URL)
	assert.ErrorIs(t, err, errAuth)
	assert.JSONEq(t, `{"error":"scripted"}`, gotBody)
}

func TestDoJSON_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	e, _ := newTestExecutor(0, srv)
	_, err := getTree(t, e, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode failed")
}

func TestGetJSON_SendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(treeBody))
	}))
	defer srv.Close()

	e := New(zap.NewNop(), rate.NewManager(rate.Config{RequestsPerSecond: 100, Burst: 10}), srv.Client(), 0, "catalog", nil)

	var out map[string]any
	headers := http.Header{}
	headers.Set("X-API-Key", "secret")
	require.NoError(t, e.GetJSON(context.Background(), srv.URL, headers, "catalog", &out))
	assert.Equal(t, "ROOT", out["type"])
}

func TestDoJSON_CanceledDuringBackoff(t *testing.T) {
	h := &scripted{statuses: []int{503, 503, 503}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	e := New(zap.NewNop(), nil, srv.Client(), 5, "catalog", nil)
	e.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	err = e.DoJSON(ctx, req, "catalog", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, h.calls.Load())
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

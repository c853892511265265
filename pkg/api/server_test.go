package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrepair/pkg/core"
	"stockrepair/pkg/history"
	"stockrepair/pkg/metrics"
	"stockrepair/pkg/provider"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/scheduler"
	"stockrepair/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recorder struct {
	calls int32
	last  atomic.Value // pcore.HistoryRequest
}

func stubFetcher(err error) (*pcore.FuncFetcher, *recorder) {
	rec := &recorder{}
	f := pcore.NewFuncFetcher("stub", func(_ context.Context, req pcore.HistoryRequest) (*core.Table, error) {
		atomic.AddInt32(&rec.calls, 1)
		rec.last.Store(req)
		if err != nil {
			return nil, err
		}
		meta := core.Metadata{Symbol: req.Symbol, Currency: "USD", Timezone: "America/New_York", PriceHint: 2}
		return core.NewTable(req.Interval, meta, []core.Bar{
			{Timestamp: time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC), Open: 10, High: 11, Low: 9, Close: 10.456, AdjClose: 10.2, Volume: 1000},
			{Timestamp: time.Date(2024, 1, 3, 14, 30, 0, 0, time.UTC), Open: 10.5, High: 11, Low: 10, Close: 10.8, AdjClose: 10.8, Volume: 1200},
		}), nil
	})
	return f, rec
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_健康检查(t *testing.T) {
	f, _ := stubFetcher(nil)
	providers := provider.NewProviderManager()
	require.NoError(t, providers.Register("yahoo", f))

	s := NewServer(history.NewClient(f, nil), WithProviders(providers))
	w := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	require.NoError(t, providers.Register("down", pcore.NewFuncFetcher("down", nil)))
	w = do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"down":"unhealthy"`)
}

func TestServer_历史数据(t *testing.T) {
	t.Run("JSON 输出", func(t *testing.T) {
		f, rec := stubFetcher(nil)
		s := NewServer(history.NewClient(f, nil))

		w := do(t, s.Handler(), http.MethodGet, "/api/v1/history/aapl?interval=1d&start=2024-01-02&end=2024-01-04&rounding=true")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "AAPL", resp.Symbol)
		assert.Equal(t, core.Interval1d, resp.Interval)
		require.Len(t, resp.Bars, 2)
		assert.Equal(t, 10.46, resp.Bars[0].Close)
		assert.Nil(t, resp.Repair)

		// 日期按交易所时区解释，首次查询先取一次时区
		assert.Equal(t, int32(2), atomic.LoadInt32(&rec.calls))
		req := rec.last.Load().(pcore.HistoryRequest)
		assert.True(t, req.Start.Equal(time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)), "got %s", req.Start)

		// 时区已缓存，不再额外请求
		w = do(t, s.Handler(), http.MethodGet, "/api/v1/history/AAPL?start=2024-01-02&end=2024-01-04")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int32(3), atomic.LoadInt32(&rec.calls))
	})

	t.Run("CSV 输出", func(t *testing.T) {
		f, _ := stubFetcher(nil)
		s := NewServer(history.NewClient(f, nil))

		w := do(t, s.Handler(), http.MethodGet, "/api/v1/history/AAPL?format=csv")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "Date,Open,High,Low,Close,Adj Close,Volume"))
	})

	t.Run("参数错误", func(t *testing.T) {
		f, rec := stubFetcher(nil)
		s := NewServer(history.NewClient(f, nil))

		for _, target := range []string{
			"/api/v1/history/AAPL?interval=7m",
			"/api/v1/history/AAPL?repair=maybe",
			"/api/v1/history/AAPL?auto_adjust=perhaps",
			"/api/v1/history/AAPL?start=yesterday",
			"/api/v1/history/AAPL?repair=on",
		} {
			w := do(t, s.Handler(), http.MethodGet, target)
			assert.Equal(t, http.StatusBadRequest, w.Code, target)
			assert.Contains(t, w.Body.String(), `"error":"invalid_request"`, target)
		}
		assert.Equal(t, int32(0), atomic.LoadInt32(&rec.calls))
	})

	t.Run("数据源错误映射", func(t *testing.T) {
		cases := []struct {
			err  error
			code int
		}{
			{fmt.Errorf("%w: No data found", pcore.ErrProviderRejected), http.StatusNotFound},
			{fmt.Errorf("%w: 1m", pcore.ErrLookbackExceeded), http.StatusUnprocessableEntity},
			{pcore.ErrCircuitOpen, http.StatusServiceUnavailable},
			{context.DeadlineExceeded, http.StatusGatewayTimeout},
			{fmt.Errorf("HTTP 500"), http.StatusBadGateway},
		}
		for _, tc := range cases {
			f, _ := stubFetcher(tc.err)
			s := NewServer(history.NewClient(f, nil))
			w := do(t, s.Handler(), http.MethodGet, "/api/v1/history/AAPL")
			assert.Equal(t, tc.code, w.Code, tc.err.Error())
		}
	})
}

func TestServer_时区查询(t *testing.T) {
	f, _ := stubFetcher(nil)
	s := NewServer(history.NewClient(f, nil))

	w := do(t, s.Handler(), http.MethodGet, "/api/v1/timezone/msft")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"symbol":"MSFT","timezone":"America/New_York"}`, w.Body.String())
}

func TestServer_已保存数据(t *testing.T) {
	f, _ := stubFetcher(nil)
	store := storage.NewMemoryStore()
	s := NewServer(history.NewClient(f, nil), WithStore(store))

	w := do(t, s.Handler(), http.MethodGet, "/api/v1/stored/AAPL")
	assert.Equal(t, http.StatusNotFound, w.Code)

	table, err := f.FetchHistory(context.Background(), pcore.HistoryRequest{Symbol: "AAPL", Interval: core.Interval1d})
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), table))

	w = do(t, s.Handler(), http.MethodGet, "/api/v1/stored")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"symbol":"AAPL"`)

	w = do(t, s.Handler(), http.MethodGet, "/api/v1/stored/aapl?interval=1d")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Bars, 2)
}

type countingExecutor struct{ runs int32 }

func (e *countingExecutor) Execute(context.Context, *scheduler.Job) error {
	atomic.AddInt32(&e.runs, 1)
	return nil
}

func TestServer_任务接口(t *testing.T) {
	f, _ := stubFetcher(nil)
	jobs := scheduler.NewJobScheduler()
	exec := &countingExecutor{}
	jobs.SetExecutor(exec)
	require.NoError(t, jobs.AddJob(scheduler.JobConfig{
		Name:     "daily",
		Enabled:  true,
		Schedule: "0 0 22 * * 1-5",
		Symbols:  []string{"AAPL"},
		Interval: "1d",
		Repair:   "silent",
	}))
	s := NewServer(history.NewClient(f, nil), WithScheduler(jobs))

	w := do(t, s.Handler(), http.MethodGet, "/api/v1/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"daily"`)

	w = do(t, s.Handler(), http.MethodPost, "/api/v1/jobs/daily/run")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&exec.runs) == 1 }, time.Second, 10*time.Millisecond)

	w = do(t, s.Handler(), http.MethodPost, "/api/v1/jobs/missing/run")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_指标与请求标识(t *testing.T) {
	f, _ := stubFetcher(nil)
	m := metrics.New()
	s := NewServer(history.NewClient(f, nil, history.WithMetrics(m)), WithMetrics(m))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/AAPL", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = do(t, s.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `fetches_total{outcome="success",provider="stub"} 1`)
}

func TestServer_CORS预检(t *testing.T) {
	f, _ := stubFetcher(nil)
	s := NewServer(history.NewClient(f, nil))
	w := do(t, s.Handler(), http.MethodOptions, "/api/v1/history/AAPL")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

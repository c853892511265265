package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrepair/pkg/core"
	apperr "stockrepair/pkg/error"
)

func sampleTable() *core.Table {
	return core.NewTable(core.Interval1d, core.Metadata{Symbol: "AAPL", Currency: "USD", Timezone: "America/New_York"}, []core.Bar{
		{Timestamp: time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC), Open: 10, High: 11, Low: 9.5, Close: 10.25, AdjClose: 10.2, Volume: 1000},
		{Timestamp: time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC), Open: 10.3, High: 10.8, Low: 10, Close: 10.5, AdjClose: 10.45, Volume: math.NaN(), Dividend: 0.24, Repaired: true},
		{Timestamp: time.Date(2024, 1, 4, 5, 0, 0, 0, time.UTC), Open: math.NaN(), High: math.NaN(), Low: math.NaN(), Close: math.NaN(), AdjClose: math.NaN(), Volume: math.NaN(), Split: 4},
	})
}

func TestCSV_读写(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Date,Open,High,Low,Close,Adj Close,Volume,Dividends,Stock Splits,Capital Gains,Repaired", lines[0])
	assert.Equal(t, "2024-01-02T00:00:00-05:00,10,11,9.5,10.25,10.2,1000,0,0,0,false", lines[1])
	assert.Equal(t, "2024-01-03T00:00:00-05:00,10.3,10.8,10,10.5,10.45,,0.24,0,0,true", lines[2])

	back, err := ReadCSV(&buf, core.Interval1d, core.Metadata{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Equal(t, 3, back.Len())
	assert.True(t, time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC).Equal(back.Bars[1].Timestamp))
	assert.True(t, math.IsNaN(back.Bars[1].Volume))
	assert.True(t, back.Bars[1].Repaired)
	assert.Equal(t, 0.24, back.Bars[1].Dividend)
	assert.True(t, math.IsNaN(back.Bars[2].Close))
	assert.Equal(t, 4.0, back.Bars[2].Split)
}

func TestCSV_格式错误(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("foo,bar\n1,2\n"), core.Interval1d, core.Metadata{})
	assert.Equal(t, ErrCSVHeaderMismatch, apperr.CodeOf(err))

	_, err = ReadCSV(strings.NewReader("Date,Open,High,Low,Close,Adj Close,Volume\n2024-01-02,abc,1,1,1,1,1\n"), core.Interval1d, core.Metadata{})
	assert.Equal(t, ErrInvalidFormat, apperr.CodeOf(err))

	_, err = ReadCSV(strings.NewReader(""), core.Interval1d, core.Metadata{})
	assert.Equal(t, ErrInvalidFormat, apperr.CodeOf(err))

	// 只有日期的简化格式
	tbl, err := ReadCSV(strings.NewReader("Date,Open,High,Low,Close,Adj Close,Volume\n2024-01-02,1,2,0.5,1.5,1.5,10\n"), core.Interval1d, core.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 1.5, tbl.Bars[0].Close)
	assert.False(t, tbl.Bars[0].Repaired)
}

func TestCSVWriter(t *testing.T) {
	ctx := context.Background()
	w, err := NewCSVWriter(CSVConfig{Directory: t.TempDir()})
	require.NoError(t, err)

	table := sampleTable()
	require.NoError(t, w.Write(ctx, table))
	assert.FileExists(t, w.Path("aapl", core.Interval1d))
	assert.True(t, strings.HasSuffix(w.Path("BRK/B", core.Interval1wk), "BRK_B_1wk.csv"))

	back, err := w.Read(ctx, "AAPL", core.Interval1d)
	require.NoError(t, err)
	assert.Equal(t, 3, back.Len())
	assert.Equal(t, "AAPL", back.Meta.Symbol)

	_, err = w.Read(ctx, "MSFT", core.Interval1d)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())
	assert.Equal(t, ErrResourceClosed, apperr.CodeOf(w.Write(ctx, table)))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	table := sampleTable()
	require.NoError(t, m.Write(ctx, table))
	table.Bars[0].Close = 999

	got, err := m.Read(ctx, "aapl", core.Interval1d)
	require.NoError(t, err)
	assert.Equal(t, 10.25, got.Bars[0].Close, "保存的是副本")

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Rows)
	assert.Equal(t, 1, list[0].Repaired)

	_, err = m.Read(ctx, "AAPL", core.Interval1h)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Close())
	assert.Empty(t, m.List())
}

type failingWriter struct{ err error }

func (f failingWriter) Write(context.Context, *core.Table) error { return f.err }
func (f failingWriter) Close() error                             { return nil }

func TestMultiWriter(t *testing.T) {
	boom := errors.New("disk full")
	mem := NewMemoryStore()
	mw := NewMultiWriter(failingWriter{boom}, mem)

	err := mw.Write(context.Background(), sampleTable())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, mem.List(), 1, "其他后端照常写入")
	assert.Equal(t, 2, mw.Len())
	assert.NoError(t, mw.Close())
}

func TestInfluxWriter(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		query  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := influxdb2.NewClient(server.URL, "token")
	w := NewInfluxWriterWithClient(client, InfluxConfig{Org: "org", Bucket: "prices", BatchSize: 1})
	defer w.Close()

	points := w.Points(sampleTable())
	require.Len(t, points, 2, "全部缺失的行不写入")

	require.NoError(t, w.Write(context.Background(), sampleTable()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2, "按批大小分两次写入")
	assert.Contains(t, query, "bucket=prices")
	assert.Contains(t, bodies[0], "price_history,currency=USD,interval=1d,symbol=AAPL")
	assert.Contains(t, bodies[0], "close=10.25")
	assert.Contains(t, bodies[0], "repaired=false")
	assert.Contains(t, bodies[1], "dividend=0.24")
	assert.NotContains(t, bodies[1], "volume=")
}

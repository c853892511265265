package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"stockrepair/pkg/core"
)

// csvHeader 导出列，Repaired 标记被修复过的行
var csvHeader = []string{
	"Date", "Open", "High", "Low", "Close", "Adj Close", "Volume",
	"Dividends", "Stock Splits", "Capital Gains", "Repaired",
}

// WriteCSV 以 CSV 格式写出价格表，缺失值写为空字符串
func WriteCSV(w io.Writer, t *core.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	loc := t.Location()
	for i := range t.Bars {
		b := &t.Bars[i]
		record := []string{
			b.Timestamp.In(loc).Format(time.RFC3339),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.AdjClose),
			formatFloat(b.Volume),
			formatFloat(b.Dividend),
			formatFloat(b.Split),
			formatFloat(b.CapitalGain),
			strconv.FormatBool(b.Repaired),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV 读取 WriteCSV 写出的数据
func ReadCSV(r io.Reader, interval core.Interval, meta core.Metadata) (*core.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, storageError(ErrInvalidFormat, "read csv header", err)
	}
	if len(header) < 7 || !strings.EqualFold(header[0], "Date") {
		return nil, storageError(ErrCSVHeaderMismatch, fmt.Sprintf("unexpected csv header %v", header), nil)
	}

	var bars []core.Bar
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, storageError(ErrInvalidFormat, fmt.Sprintf("read csv line %d", line), err)
		}
		b, err := parseRecord(record)
		if err != nil {
			return nil, storageError(ErrInvalidFormat, fmt.Sprintf("parse csv line %d", line), err)
		}
		bars = append(bars, b)
	}
	return core.NewTable(interval, meta, bars), nil
}

func parseRecord(record []string) (core.Bar, error) {
	var b core.Bar
	ts, err := parseTimestamp(record[0])
	if err != nil {
		return b, err
	}
	b.Timestamp = ts

	values := make([]float64, 9)
	for k := range values {
		values[k] = math.NaN()
		if k >= 6 {
			values[k] = 0
		}
		if 1+k >= len(record) {
			continue
		}
		if v, ok, err := parseFloat(record[1+k]); err != nil {
			return b, fmt.Errorf("column %s: %w", csvHeader[1+k], err)
		} else if ok {
			values[k] = v
		}
	}
	b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume = values[0], values[1], values[2], values[3], values[4], values[5]
	b.Dividend, b.Split, b.CapitalGain = values[6], values[7], values[8]

	if len(record) > 10 {
		b.Repaired, _ = strconv.ParseBool(record[10])
	}
	return b, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseFloat(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil, err
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CSVConfig 文件导出配置
type CSVConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// CSVWriter 每个标的与粒度一个文件，写入时整体替换
type CSVWriter struct {
	config CSVConfig
	mu     sync.Mutex
	closed bool
}

// NewCSVWriter 创建文件导出器并确保目录存在
func NewCSVWriter(config CSVConfig) (*CSVWriter, error) {
	if config.Directory == "" {
		config.Directory = "."
	}
	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, storageError(ErrStorageIO, "create csv directory", err)
	}
	return &CSVWriter{config: config}, nil
}

// Path 标的与粒度对应的文件路径
func (w *CSVWriter) Path(symbol string, interval core.Interval) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.ToUpper(symbol))
	return filepath.Join(w.config.Directory, fmt.Sprintf("%s_%s.csv", name, interval))
}

// Write 写入临时文件后重命名，读者不会看到写了一半的文件
func (w *CSVWriter) Write(ctx context.Context, t *core.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return storageError(ErrResourceClosed, "csv writer closed", nil)
	}

	path := w.Path(t.Meta.Symbol, t.Interval)
	tmp, err := os.CreateTemp(w.config.Directory, ".tmp-*.csv")
	if err != nil {
		return storageError(ErrStorageIO, "create temp csv", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, t); err != nil {
		tmp.Close()
		return storageError(ErrStorageIO, "write csv", err)
	}
	if err := tmp.Close(); err != nil {
		return storageError(ErrStorageIO, "close csv", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return storageError(ErrStorageIO, "rename csv", err)
	}
	return nil
}

// Read 读取已导出的文件
func (w *CSVWriter) Read(ctx context.Context, symbol string, interval core.Interval) (*core.Table, error) {
	f, err := os.Open(w.Path(symbol, interval))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, symbol, interval)
	}
	if err != nil {
		return nil, storageError(ErrStorageIO, "open csv", err)
	}
	defer f.Close()
	return ReadCSV(f, interval, core.Metadata{Symbol: strings.ToUpper(symbol)})
}

// Close 之后的写入返回错误
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

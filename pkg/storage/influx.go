package storage

import (
	"context"
	"fmt"
	"math"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"stockrepair/pkg/core"
	"stockrepair/pkg/logger"
)

// DefaultMeasurement 价格历史的 measurement 名称
const DefaultMeasurement = "price_history"

// InfluxConfig InfluxDB 连接配置
type InfluxConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	URL         string `mapstructure:"url" yaml:"url"`
	Token       string `mapstructure:"token" yaml:"token"`
	Org         string `mapstructure:"org" yaml:"org"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket"`
	Measurement string `mapstructure:"measurement" yaml:"measurement"`
	BatchSize   int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// DefaultInfluxConfig 默认配置
func DefaultInfluxConfig() InfluxConfig {
	return InfluxConfig{
		URL:         "http://localhost:8086",
		Org:         "stockrepair",
		Bucket:      "price_history",
		Measurement: DefaultMeasurement,
		BatchSize:   5000,
	}
}

// InfluxWriter 将修复后的价格表写入 InfluxDB
// tag: symbol, interval, currency；field: OHLCV、事件与 repaired
type InfluxWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	config   InfluxConfig
	log      *logrus.Entry

	mu     sync.Mutex
	closed bool
}

// NewInfluxWriter 创建写入器并检查服务健康状态
func NewInfluxWriter(ctx context.Context, config InfluxConfig) (*InfluxWriter, error) {
	client := influxdb2.NewClient(config.URL, config.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, storageError(ErrStorageIO, "failed to connect to InfluxDB", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, storageError(ErrStorageIO, fmt.Sprintf("InfluxDB health check failed: %s", health.Status), nil)
	}
	return NewInfluxWriterWithClient(client, config), nil
}

// NewInfluxWriterWithClient 使用已有客户端创建写入器
func NewInfluxWriterWithClient(client influxdb2.Client, config InfluxConfig) *InfluxWriter {
	if config.Measurement == "" {
		config.Measurement = DefaultMeasurement
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 5000
	}
	return &InfluxWriter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(config.Org, config.Bucket),
		config:   config,
		log:      logger.WithComponent("InfluxWriter"),
	}
}

// Points 将价格表转换为数据点，NaN 字段不写入，全部缺失的行跳过
func (w *InfluxWriter) Points(t *core.Table) []*write.Point {
	points := make([]*write.Point, 0, t.Len())
	tags := map[string]string{
		"symbol":   t.Meta.Symbol,
		"interval": string(t.Interval),
	}
	if t.Meta.Currency != "" {
		tags["currency"] = t.Meta.Currency
	}

	for i := range t.Bars {
		b := &t.Bars[i]
		fields := make(map[string]interface{}, 11)
		addField(fields, "open", b.Open)
		addField(fields, "high", b.High)
		addField(fields, "low", b.Low)
		addField(fields, "close", b.Close)
		addField(fields, "adj_close", b.AdjClose)
		addField(fields, "volume", b.Volume)
		if len(fields) == 0 {
			continue
		}
		if b.Dividend > 0 {
			fields["dividend"] = b.Dividend
		}
		if b.Split > 0 {
			fields["split"] = b.Split
		}
		if b.CapitalGain > 0 {
			fields["capital_gain"] = b.CapitalGain
		}
		fields["repaired"] = b.Repaired

		points = append(points, influxdb2.NewPoint(w.config.Measurement, tags, fields, b.Timestamp))
	}
	return points
}

func addField(fields map[string]interface{}, name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	fields[name] = v
}

// Write 分批阻塞写入
func (w *InfluxWriter) Write(ctx context.Context, t *core.Table) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return storageError(ErrResourceClosed, "influx writer closed", nil)
	}

	points := w.Points(t)
	for start := 0; start < len(points); start += w.config.BatchSize {
		end := start + w.config.BatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := w.writeAPI.WritePoint(ctx, points[start:end]...); err != nil {
			return storageError(ErrStorageIO, "write points to InfluxDB", err)
		}
	}

	w.log.WithFields(logrus.Fields{
		"symbol":   t.Meta.Symbol,
		"interval": t.Interval,
		"count":    len(points),
	}).Debug("wrote price history points")
	return nil
}

// Close 关闭客户端
func (w *InfluxWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		w.client.Close()
	}
	return nil
}

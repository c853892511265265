package storage

import (
	"context"

	"stockrepair/pkg/core"
)

// Writer 定义了价格表的持久化行为。
// 任何希望接收修复后数据的后端（CSV、InfluxDB、内存）都必须实现此接口。
type Writer interface {
	// Write 写入一张完整的价格表，同一标的与粒度的旧数据被覆盖或追加由后端决定。
	Write(ctx context.Context, t *core.Table) error
	// Close 关闭存储连接并释放所有资源。
	Close() error
}

// Reader 按标的与粒度读取最近一次写入的价格表。
type Reader interface {
	Read(ctx context.Context, symbol string, interval core.Interval) (*core.Table, error)
}

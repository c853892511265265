package storage

import (
	"context"
	"errors"
	"fmt"

	"stockrepair/pkg/core"
)

// MultiWriter 依次写入多个后端，单个失败不影响其他后端
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter 组合多个写入器
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Len 后端数量
func (m *MultiWriter) Len() int {
	return len(m.writers)
}

// Write 写入全部后端，返回合并后的错误
func (m *MultiWriter) Write(ctx context.Context, t *core.Table) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Write(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", w, err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部后端
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

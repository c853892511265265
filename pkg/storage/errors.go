package storage

import (
	"errors"

	apperr "stockrepair/pkg/error"
)

const (
	// ErrStorageIO 表示发生了存储I/O错误。
	ErrStorageIO apperr.ErrorCode = "STORAGE_IO"
	// ErrInvalidFormat 表示数据格式无效。
	ErrInvalidFormat apperr.ErrorCode = "INVALID_FORMAT"
	// ErrResourceClosed 表示尝试访问已关闭的资源。
	ErrResourceClosed apperr.ErrorCode = "RESOURCE_CLOSED"
	// ErrCSVHeaderMismatch CSV 表头与预期列不一致
	ErrCSVHeaderMismatch apperr.ErrorCode = "CSV_HEADER_MISMATCH"
)

// ErrNotFound 没有该标的与粒度的数据
var ErrNotFound = errors.New("no stored history")

// storageError 带存储错误代码的错误
func storageError(code apperr.ErrorCode, message string, cause error) *apperr.BaseError {
	if cause == nil {
		return apperr.NewError(code, message)
	}
	return apperr.WrapError(code, message, cause)
}

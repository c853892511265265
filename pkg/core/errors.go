package core

import "errors"

var (
	// ErrInvalidInterval 不支持的时间粒度
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidSymbol 无效的标的代码
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidRange 起止时间不合法
	ErrInvalidRange = errors.New("invalid time range")
)

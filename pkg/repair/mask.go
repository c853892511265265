package repair

import (
	"stockrepair/pkg/core"
)

// CellState 单元格的修复状态
type CellState uint8

const (
	// CellGood 值可信
	CellGood CellState = iota
	// CellPending 已标记，等待重建
	CellPending
	// CellUnrepairable 无法重建，保留原值
	CellUnrepairable
)

var allFields = []core.Field{
	core.FieldOpen, core.FieldHigh, core.FieldLow, core.FieldClose, core.FieldAdjClose, core.FieldVolume,
}

// Mask 与价格表平行的单元格状态矩阵
type Mask struct {
	rows [][core.NumFields]CellState
}

// NewMask 创建 n 行全部可信的掩码
func NewMask(n int) *Mask {
	return &Mask{rows: make([][core.NumFields]CellState, n)}
}

func (m *Mask) Len() int { return len(m.rows) }

func (m *Mask) Get(i int, f core.Field) CellState { return m.rows[i][f] }

func (m *Mask) Set(i int, f core.Field, s CellState) { m.rows[i][f] = s }

// Tag 标记单元格待修复
func (m *Mask) Tag(i int, f core.Field) { m.rows[i][f] = CellPending }

// RowPending 该行是否有待修复单元格
func (m *Mask) RowPending(i int) bool {
	for _, s := range m.rows[i] {
		if s == CellPending {
			return true
		}
	}
	return false
}

// PendingRows 有待修复单元格的行号（升序）
func (m *Mask) PendingRows() []int {
	var out []int
	for i := range m.rows {
		if m.RowPending(i) {
			out = append(out, i)
		}
	}
	return out
}

// Count 统计某状态的单元格数
func (m *Mask) Count(s CellState) int {
	n := 0
	for i := range m.rows {
		for _, c := range m.rows[i] {
			if c == s {
				n++
			}
		}
	}
	return n
}

// Any 是否存在待修复单元格
func (m *Mask) Any() bool {
	for i := range m.rows {
		if m.RowPending(i) {
			return true
		}
	}
	return false
}

// giveUpRow 将该行待修复单元格转为不可修复，返回转换数量
func (m *Mask) giveUpRow(i int) int {
	n := 0
	for f, s := range m.rows[i] {
		if s == CellPending {
			m.rows[i][f] = CellUnrepairable
			n++
		}
	}
	return n
}

// giveUpAll 将全部待修复单元格转为不可修复
func (m *Mask) giveUpAll() int {
	n := 0
	for i := range m.rows {
		n += m.giveUpRow(i)
	}
	return n
}

package repair

import (
	"sort"
	"time"

	"stockrepair/pkg/core"
)

// Pass 修复流水线中的一道工序
type Pass string

const (
	PassCurrency     Pass = "currency"
	PassDividends    Pass = "dividends"
	PassLatestZeroes Pass = "latest-zeroes"
	PassUnitSwitch   Pass = "unit-switch"
	PassUnitMixup    Pass = "unit-mixup"
	PassBadSplits    Pass = "bad-splits"
	PassZeroes       Pass = "zeroes"
	PassConsistency  Pass = "consistency"
)

// State 修复流水线状态，只会前进
type State int

const (
	StateRawFetched State = iota
	StateCurrencyStandardized
	StateDividendsRepaired
	StateLatestRowZeroRepaired
	StateUnitMixupRepaired
	StateBadSplitRepaired
	StateFullyZeroRepaired
	StateFinal
)

var stateNames = map[State]string{
	StateRawFetched:            "raw-fetched",
	StateCurrencyStandardized:  "currency-standardized",
	StateDividendsRepaired:     "dividends-repaired",
	StateLatestRowZeroRepaired: "latest-row-zero-repaired",
	StateUnitMixupRepaired:     "unit-mixup-repaired",
	StateBadSplitRepaired:      "bad-split-repaired",
	StateFullyZeroRepaired:     "fully-zero-repaired",
	StateFinal:                 "final",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// PassStats 单道工序的计数
type PassStats struct {
	Tagged       int `json:"tagged"`        // 被标记的单元格
	Fixed        int `json:"fixed"`         // 通过细粒度重建修复
	FixedCrudely int `json:"fixed_crudely"` // 重建失败后的粗略修正
	Unrepaired   int `json:"unrepaired"`    // 仍无法修复
	TooOld       int `json:"too_old"`       // 超出细粒度回溯范围
	Rows         int `json:"rows"`          // 被整行修正的行数
}

// DividendRepair 单个分红事件的处置记录
type DividendRepair struct {
	Date        time.Time  `json:"date"`
	MovedTo     time.Time  `json:"moved_to,omitempty"`
	Classes     []DivClass `json:"classes"`
	OldDividend float64    `json:"old_dividend"`
	NewDividend float64    `json:"new_dividend"`
	// 对事件之前全部 AdjClose 施加的乘数
	AdjCorrection float64 `json:"adj_correction"`
}

// Stats 一次修复的汇总结果
type Stats struct {
	Symbol    string              `json:"symbol"`
	Interval  core.Interval       `json:"interval"`
	State     State               `json:"state"`
	Passes    map[Pass]*PassStats `json:"passes"`
	Dividends []DividendRepair    `json:"dividends,omitempty"`
	Currency  string              `json:"currency"`
	Fetches   int                 `json:"fetches"` // 细粒度请求次数，含递归
}

func newStats(t *core.Table) *Stats {
	return &Stats{
		Symbol:   t.Meta.Symbol,
		Interval: t.Interval,
		Passes:   make(map[Pass]*PassStats),
		Currency: t.Meta.Currency,
	}
}

// Pass 获取（必要时创建）工序计数
func (s *Stats) Pass(p Pass) *PassStats {
	ps, ok := s.Passes[p]
	if !ok {
		ps = &PassStats{}
		s.Passes[p] = ps
	}
	return ps
}

func (s *Stats) advance(st State) {
	if st > s.State {
		s.State = st
	}
}

// TotalFixed 全部工序修复的单元格与行数之和
func (s *Stats) TotalFixed() int {
	n := 0
	for _, ps := range s.Passes {
		n += ps.Fixed + ps.FixedCrudely + ps.Rows
	}
	return n + len(s.Dividends)
}

// PassNames 有计数的工序名，按字母序
func (s *Stats) PassNames() []string {
	names := make([]string, 0, len(s.Passes))
	for p := range s.Passes {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

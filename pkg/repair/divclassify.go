package repair

import (
	"math"
)

// DivClass 分红问题的分类
type DivClass string

const (
	DivPhantom          DivClass = "phantom"            // 同一事件被重复记录
	DivPreSplit         DivClass = "pre-split"          // 未随后续拆股调整
	DivCurrencyTooBig   DivClass = "currency-too-big"   // 金额按辅币记录
	DivCurrencyTooSmall DivClass = "currency-too-small" // 金额被多除了辅币倍数
	DivWrongDate        DivClass = "wrong-date"         // 除息日记录错误
	DivAdjMissing       DivClass = "adj-missing"        // 未应用复权
	DivAdjTooBig        DivClass = "adj-too-big"        // 复权幅度过大
	DivAdjTooSmall      DivClass = "adj-too-small"      // 复权幅度过小
)

// divGroup 互斥的分类组，同组只取优先级最高的一条
type divGroup int

const (
	groupEvent divGroup = iota
	groupAmount
	groupDate
	groupAdjust
)

// divEvidence 单个分红事件的全部证据
type divEvidence struct {
	idx       int
	div       float64
	prevClose float64
	pct       float64 // 分红 / 前收盘
	dropPct   float64 // 除息日跳空 / 前收盘
	volPct    float64 // 局部典型跳空 / 前收盘
	// 已应用复权隐含的股息率，NaN 表示无法计算
	impliedYield float64
	// 同类分红簇的参考股息率及簇大小
	refPct  float64
	refSize int
	// 分红之后窗口内的拆股比例，0 表示没有
	splitRatio float64
	// 辅币倍数候选，由报价币种的辅币单位决定
	scales []float64
	// 错误日期的候选行及其跌幅
	altIdx     int
	altDropPct float64
	// 重复记录的另一条事件行号，-1 表示没有
	twinIdx int

	// 分类过程中确定的修正
	amountFactor float64 // 正确金额 = div / amountFactor
}

// dropVisible 除息日跌幅是否显著
func (ev *divEvidence) dropVisible(sig float64) bool {
	return ev.dropPct > sig*ev.volPct
}

// expected 期望股息率：优先参考同类簇，其次参考实际跌幅
func (ev *divEvidence) expected(sig float64) float64 {
	if ev.refSize >= 1 && ev.refPct > 0 {
		return ev.refPct
	}
	if ev.dropVisible(sig) {
		return ev.dropPct
	}
	return math.NaN()
}

// corroborated 记录的金额是否有独立证据支持
// 跌幅可观测时以跌幅为准，否则看已应用的复权
func (ev *divEvidence) corroborated(cfg *DividendConfig) bool {
	if !(ev.pct > 0) {
		return false
	}
	if ev.dropVisible(cfg.DropSignificance) {
		return scaleMatches(ev.dropPct/ev.pct, 1, cfg.ScaleTolerance)
	}
	if math.IsNaN(ev.impliedYield) {
		return false
	}
	return scaleMatches(ev.impliedYield/ev.pct, 1, cfg.ScaleTolerance)
}

// correctedPct 应用金额修正后的股息率
func (ev *divEvidence) correctedPct() float64 {
	if ev.amountFactor > 0 {
		return ev.pct / ev.amountFactor
	}
	return ev.pct
}

// divRule 决策表中的一条规则
type divRule struct {
	class DivClass
	group divGroup
	match func(cfg *DividendConfig, ev *divEvidence) bool
}

// divRules 按优先级排列的决策表：
// 重复记录直接终止；金额类互斥；日期类独立；复权类按 缺失 > 过大 > 过小 互斥
var divRules = []divRule{
	{DivPhantom, groupEvent, isPhantom},
	{DivPreSplit, groupAmount, isPreSplit},
	{DivCurrencyTooBig, groupAmount, isCurrencyTooBig},
	{DivCurrencyTooSmall, groupAmount, isCurrencyTooSmall},
	{DivWrongDate, groupDate, isWrongDate},
	{DivAdjMissing, groupAdjust, isAdjMissing},
	{DivAdjTooBig, groupAdjust, isAdjTooBig},
	{DivAdjTooSmall, groupAdjust, isAdjTooSmall},
}

// classifyDividend 依次匹配决策表
func classifyDividend(cfg *DividendConfig, ev *divEvidence) []DivClass {
	var classes []DivClass
	matched := make(map[divGroup]bool)
	for _, rule := range divRules {
		if matched[rule.group] {
			continue
		}
		if !rule.match(cfg, ev) {
			continue
		}
		classes = append(classes, rule.class)
		matched[rule.group] = true
		if rule.group == groupEvent {
			return classes
		}
	}
	return classes
}

func isPhantom(_ *DividendConfig, ev *divEvidence) bool {
	return ev.twinIdx >= 0
}

// scaleMatches ratio 是否在容差内等于 scale
func scaleMatches(ratio, scale, tol float64) bool {
	return scale > 0 && math.Abs(ratio/scale-1) < tol
}

func isPreSplit(cfg *DividendConfig, ev *divEvidence) bool {
	if ev.splitRatio == 0 || ev.splitRatio == 1 {
		return false
	}
	hit := false
	if ev.refSize >= 1 && ev.refPct > 0 && scaleMatches(ev.pct/ev.refPct, ev.splitRatio, cfg.ScaleTolerance) {
		hit = true
	}
	if ev.dropVisible(cfg.DropSignificance) && scaleMatches(ev.pct/ev.dropPct, ev.splitRatio, cfg.ScaleTolerance) {
		hit = true
	}
	if hit {
		ev.amountFactor = ev.splitRatio
	}
	return hit
}

func isCurrencyTooBig(cfg *DividendConfig, ev *divEvidence) bool {
	if ev.corroborated(cfg) {
		return false
	}
	exp := ev.expected(cfg.DropSignificance)
	if math.IsNaN(exp) {
		// 分红超过股价只可能是单位错误
		if ev.pct > 1 && len(ev.scales) > 0 {
			ev.amountFactor = ev.scales[0]
			return true
		}
		return false
	}
	best, bestDist := 0.0, math.Inf(1)
	for _, s := range ev.scales {
		if !scaleMatches(ev.pct/exp, s, cfg.ScaleTolerance) && ev.pct <= 1 {
			continue
		}
		if d := math.Abs(math.Log(ev.pct / s / exp)); d < bestDist {
			best, bestDist = s, d
		}
	}
	if best == 0 {
		return false
	}
	ev.amountFactor = best
	return true
}

func isCurrencyTooSmall(cfg *DividendConfig, ev *divEvidence) bool {
	if ev.corroborated(cfg) {
		return false
	}
	exp := ev.expected(cfg.DropSignificance)
	if math.IsNaN(exp) || !(ev.pct > 0) {
		return false
	}
	for _, s := range ev.scales {
		if scaleMatches(exp/ev.pct, s, cfg.ScaleTolerance) {
			ev.amountFactor = 1 / s
			return true
		}
	}
	return false
}

func isWrongDate(cfg *DividendConfig, ev *divEvidence) bool {
	pct := ev.correctedPct()
	// 分红相对波动太小时跌幅不可观测，无法判断日期
	if !(pct > cfg.DropSignificance*ev.volPct) {
		return false
	}
	if ev.dropVisible(cfg.DropSignificance) || ev.altIdx < 0 {
		return false
	}
	return math.Abs(ev.altDropPct/pct-1) < cfg.ScaleTolerance
}

func isAdjMissing(cfg *DividendConfig, ev *divEvidence) bool {
	if math.IsNaN(ev.impliedYield) {
		return false
	}
	return math.Abs(ev.impliedYield) < cfg.AdjMissingEpsilon
}

func isAdjTooBig(cfg *DividendConfig, ev *divEvidence) bool {
	if math.IsNaN(ev.impliedYield) {
		return false
	}
	return ev.impliedYield/ev.correctedPct() > cfg.AdjMismatchFactor
}

func isAdjTooSmall(cfg *DividendConfig, ev *divEvidence) bool {
	if math.IsNaN(ev.impliedYield) {
		return false
	}
	return ev.impliedYield/ev.correctedPct() < 1/cfg.AdjMismatchFactor
}

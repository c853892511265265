package repair

import (
	"fmt"
	"time"
)

// MaxDepth 细粒度重建允许的最大递归深度
const MaxDepth = 2

// Config 修复引擎的全部阈值
type Config struct {
	// 单位混淆检测：比值按 RatioRoundStep 取整后等于 UnitMixupRatio 判定为混淆
	RatioRoundStep float64 `mapstructure:"ratio_round_step"`
	UnitMixupRatio float64 `mapstructure:"unit_mixup_ratio"`

	// 突变检测：期望变化幅度必须超过 VolatilityMultiplier 倍的日常波动
	VolatilityMultiplier float64 `mapstructure:"volatility_multiplier"`
	// 跳变行成交量超过中位数的倍数视为真实事件，不做修正
	VolumeSpikeFactor float64 `mapstructure:"volume_spike_factor"`
	// 拆股修复时在拆股行之后保留的行数
	SplitWindow int `mapstructure:"split_window"`

	// 日内某天缺失行占比超过该值时视为休市，整天不修复
	ClosedDayFraction float64 `mapstructure:"closed_day_fraction"`

	Dividend DividendConfig `mapstructure:"dividend"`

	// 币种标准化后，平均股息率超过该值视为分红仍是辅币单位
	CurrencyYieldLimit float64 `mapstructure:"currency_yield_limit"`
}

// DividendConfig 分红修复阈值
type DividendConfig struct {
	// 计算局部波动的前后窗口行数
	VolatilityWindow int `mapstructure:"volatility_window"`
	// 跌幅超过局部波动的倍数才视为可观测
	DropSignificance float64 `mapstructure:"drop_significance"`
	// 错误日期检测的向后查找窗口
	Lookahead time.Duration `mapstructure:"lookahead"`
	// 重复分红检测窗口
	PhantomWindow time.Duration `mapstructure:"phantom_window"`
	// 同一事件两次记录的金额相对差异上限
	PhantomTolerance float64 `mapstructure:"phantom_tolerance"`
	// 拆股前分红检测：分红之后多长时间内的拆股
	PreSplitWindow time.Duration `mapstructure:"pre_split_window"`
	// 聚类时相邻比例超过该倍数则切分为新簇
	ClusterGap float64 `mapstructure:"cluster_gap"`
	// 倍数匹配的相对容差
	ScaleTolerance float64 `mapstructure:"scale_tolerance"`
	// 已应用复权与期望复权之比超出 [1/f, f] 判定为过大或过小
	AdjMismatchFactor float64 `mapstructure:"adj_mismatch_factor"`
	// 前后复权乘数差异小于该值视为未复权
	AdjMissingEpsilon float64 `mapstructure:"adj_missing_epsilon"`
}

// DefaultConfig 默认阈值
func DefaultConfig() Config {
	return Config{
		RatioRoundStep:       20,
		UnitMixupRatio:       100,
		VolatilityMultiplier: 5,
		VolumeSpikeFactor:    5,
		SplitWindow:          5,
		ClosedDayFraction:    0.5,
		CurrencyYieldLimit:   1.0,
		Dividend: DividendConfig{
			VolatilityWindow:  10,
			DropSignificance:  2,
			Lookahead:         5 * 7 * 24 * time.Hour,
			PhantomWindow:     7 * 24 * time.Hour,
			PhantomTolerance:  0.1,
			PreSplitWindow:    365 * 24 * time.Hour,
			ClusterGap:        1.8,
			ScaleTolerance:    0.3,
			AdjMismatchFactor: 2,
			AdjMissingEpsilon: 1e-6,
		},
	}
}

// Validate 检查配置
func (c Config) Validate() error {
	if c.RatioRoundStep <= 0 {
		return fmt.Errorf("ratio_round_step must be positive")
	}
	if c.UnitMixupRatio <= 1 {
		return fmt.Errorf("unit_mixup_ratio must be greater than 1")
	}
	if c.VolatilityMultiplier <= 0 {
		return fmt.Errorf("volatility_multiplier must be positive")
	}
	if c.VolumeSpikeFactor <= 1 {
		return fmt.Errorf("volume_spike_factor must be greater than 1")
	}
	if c.SplitWindow < 1 {
		return fmt.Errorf("split_window must be at least 1")
	}
	if c.ClosedDayFraction <= 0 || c.ClosedDayFraction > 1 {
		return fmt.Errorf("closed_day_fraction must be in (0, 1]")
	}
	if c.CurrencyYieldLimit <= 0 {
		return fmt.Errorf("currency_yield_limit must be positive")
	}
	d := c.Dividend
	if d.VolatilityWindow < 1 {
		return fmt.Errorf("dividend.volatility_window must be at least 1")
	}
	if d.DropSignificance <= 0 || d.ClusterGap <= 1 || d.AdjMismatchFactor <= 1 {
		return fmt.Errorf("dividend thresholds out of range")
	}
	if d.ScaleTolerance <= 0 || d.ScaleTolerance >= 1 || d.PhantomTolerance <= 0 {
		return fmt.Errorf("dividend tolerances must be in (0, 1)")
	}
	if d.Lookahead <= 0 || d.PhantomWindow <= 0 || d.PreSplitWindow <= 0 {
		return fmt.Errorf("dividend windows must be positive")
	}
	return nil
}

package repair

import (
	"math"

	"golang.org/x/text/currency"

	"stockrepair/pkg/core"
)

type minorUnit struct {
	major  string
	factor float64
}

// 辅币单位到主币单位的映射
var minorUnits = map[string]minorUnit{
	"GBp": {"GBP", 100},
	"GBX": {"GBP", 100},
	"ZAc": {"ZAR", 100},
	"ZAC": {"ZAR", 100},
	"ILA": {"ILS", 100},
	"KWF": {"KWD", 1000},
}

// minorUnitFactor 主币与辅币的倍数，三位小数币种为 1000
func minorUnitFactor(code string) float64 {
	if mu, ok := minorUnits[code]; ok {
		return mu.factor
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 100
	}
	if scale, _ := currency.Standard.Rounding(unit); scale == 3 {
		return 1000
	}
	return 100
}

// standardizeCurrency 将辅币计价的数据统一换算为主币
func (r *run) standardizeCurrency(t *core.Table) {
	mu, ok := minorUnits[t.Meta.Currency]
	if !ok || t.Empty() {
		return
	}
	if _, err := currency.ParseISO(mu.major); err != nil {
		r.log.WithError(err).Warnf("unknown major currency %s, keeping %s", mu.major, t.Meta.Currency)
		return
	}
	f := mu.factor
	ps := r.stats.Pass(PassCurrency)

	// 数据源有时最新一行已经是主币
	n := t.Len()
	if n >= 2 {
		last, prev := t.Bars[n-1].Close, t.Bars[n-2].Close
		if core.IsValidPrice(last) && core.IsValidPrice(prev) {
			if ratio := prev / last; roundStep(ratio, r.cfg().RatioRoundStep) == roundStep(f, r.cfg().RatioRoundStep) {
				for _, fld := range core.PriceFields {
					t.Bars[n-1].Set(fld, t.Bars[n-1].Get(fld)*f)
				}
				t.Bars[n-1].Repaired = true
				ps.Rows++
				r.log.Debug("latest row already in major currency units")
			}
		}
	}

	for i := range t.Bars {
		for _, fld := range core.PriceFields {
			t.Bars[i].Set(fld, t.Bars[i].Get(fld)/f)
		}
	}

	// 分红是否也是辅币单位，看平均股息率
	var yields []float64
	for i := 1; i < n; i++ {
		if t.Bars[i].Dividend > 0 && core.IsValidPrice(t.Bars[i-1].Close) {
			yields = append(yields, t.Bars[i].Dividend/t.Bars[i-1].Close)
		}
	}
	if len(yields) > 0 {
		var sum float64
		for _, y := range yields {
			sum += y
		}
		if sum/float64(len(yields)) > r.cfg().CurrencyYieldLimit {
			for i := range t.Bars {
				t.Bars[i].Dividend /= f
				t.Bars[i].CapitalGain /= f
			}
			r.log.Debug("dividends converted to major currency units")
		}
	}

	if !math.IsNaN(t.Meta.RegularMarketPrice) {
		t.Meta.RegularMarketPrice /= f
	}
	// 主币价格需要更多小数位
	t.Meta.PriceHint += int(math.Round(math.Log10(f)))
	r.report("converted prices from %s to %s", t.Meta.Currency, mu.major)
	t.Meta.Currency = mu.major
}

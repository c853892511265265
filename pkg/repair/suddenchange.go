package repair

import (
	"math"

	"stockrepair/pkg/core"
)

var changeFields = []core.Field{core.FieldOpen, core.FieldHigh, core.FieldLow, core.FieldClose}

// changeOptions 突变修复参数
type changeOptions struct {
	pass Pass
	// 期望的变化倍数，如 100 或拆股比例
	change float64
	// 按列独立检测（日内），否则按行
	perColumn bool
	// 拆股行号，-1 表示非拆股模式
	splitIdx int
	// 修正区间内的分红是否一起缩放
	correctDividends bool
	// 成交量是否反向缩放（拆股需要，币种单位切换不需要）
	correctVolume bool
}

// changeBlock 需要整体修正的连续区间（表行号，闭区间）
type changeBlock struct {
	start, end int
	// 区间内数值 = 真实值 × factor
	factor float64
	// 列模式下修正的列，nil 表示整行
	fields []core.Field
}

// fixSuddenChange 检测并修正相对最新数据出现的成段倍数偏差，返回修正的区间
func (r *run) fixSuddenChange(t *core.Table, opts changeOptions) []changeBlock {
	n := t.Len()
	if n < 3 || !(opts.change > 0) || opts.change == 1 {
		return nil
	}
	cfg := r.cfg()
	log := r.log.WithField("pass", opts.pass)

	// 停牌时以最后一个有成交的行作为基准
	anchor := n - 1
	if t.Meta.InstrumentType != core.InstrumentCurrency {
		for anchor >= 0 && !(t.Bars[anchor].Volume > 0) {
			anchor--
		}
		if anchor < 0 {
			log.Debug("no traded rows, skipping sudden change check")
			return nil
		}
		if anchor < n-1 {
			log.Debugf("trading suspended since row %d, using it as baseline", anchor)
		}
	}

	// 有效行及其复权后价格
	var idx []int
	var prices [][]float64
	for i := 0; i <= anchor; i++ {
		b := &t.Bars[i]
		ok := true
		for _, f := range changeFields {
			if !core.IsValidPrice(b.Get(f)) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		mult := b.AdjustmentMultiplier()
		if math.IsNaN(mult) {
			mult = 1
		}
		p := make([]float64, len(changeFields))
		for j, f := range changeFields {
			p[j] = b.Get(f) * mult
		}
		idx = append(idx, i)
		prices = append(prices, p)
	}
	if len(idx) < 3 {
		return nil
	}

	// 相邻有效行的比值
	ratios := make([][]float64, len(idx))
	ratios[0] = []float64{1, 1, 1, 1}
	for k := 1; k < len(idx); k++ {
		ratios[k] = make([]float64, len(changeFields))
		for j := range changeFields {
			ratios[k][j] = prices[k][j] / prices[k-1][j]
		}
	}

	var series [][]float64
	var deltas []float64
	if opts.perColumn {
		for j := range changeFields {
			s := make([]float64, len(idx))
			for k := range idx {
				s[k] = ratios[k][j]
				if k > 0 {
					deltas = append(deltas, math.Abs(s[k]-1))
				}
			}
			series = append(series, s)
		}
	} else {
		s := make([]float64, len(idx))
		for k := range idx {
			s[k] = nearestToOne(ratios[k])
			if k > 0 {
				deltas = append(deltas, math.Abs(s[k]-1))
			}
		}
		series = append(series, s)
	}

	q1, q3 := percentile(deltas, 25), percentile(deltas, 75)
	vol := q3 + 1.5*(q3-q1)
	cmax := math.Max(opts.change, 1/opts.change)
	if cmax-1 < cfg.VolatilityMultiplier*vol {
		log.Debugf("change %.3f too close to volatility %.4f, skipping", cmax, vol)
		return nil
	}
	threshold := ((1 + vol) + cmax) / 2

	var blocks []changeBlock
	for s, ser := range series {
		var fields []core.Field
		if opts.perColumn {
			fields = []core.Field{changeFields[s]}
			if changeFields[s] == core.FieldClose {
				fields = append(fields, core.FieldAdjClose)
			}
		}
		for _, blk := range detectBlocks(ser, threshold, cmax) {
			tb := changeBlock{start: idx[blk.start], end: idx[blk.end], factor: blk.factor, fields: fields}
			if r.volumeSpike(t, idx, blk, opts) {
				log.Debugf("volume spike at block %d-%d, treating as genuine move", tb.start, tb.end)
				continue
			}
			blocks = append(blocks, tb)
		}
	}
	if len(blocks) == 0 {
		return nil
	}

	ps := r.stats.Pass(opts.pass)
	for _, blk := range blocks {
		ps.Rows += applyBlock(t, blk, opts.correctVolume, opts.correctDividends)
	}
	if opts.splitIdx >= 0 && !opts.perColumn {
		moveSplit(t, opts.splitIdx, blocks, cfg.SplitWindow)
	}
	r.report("%s: corrected %d blocks (%d rows)", opts.pass, len(blocks), ps.Rows)
	return blocks
}

// detectBlocks 从最新向最早扫描，成对匹配离开与进入跳变
// 返回的 start/end 为 series 下标
func detectBlocks(ratios []float64, threshold, cmax float64) []changeBlock {
	var blocks []changeBlock
	inBlock := false
	var cur changeBlock
	for k := len(ratios) - 1; k >= 1; k-- {
		r := ratios[k]
		if !inBlock {
			switch {
			case r >= threshold:
				// 从偏小区间跳回正常值
				cur = changeBlock{end: k - 1, factor: 1 / cmax}
				inBlock = true
			case r <= 1/threshold:
				cur = changeBlock{end: k - 1, factor: cmax}
				inBlock = true
			}
			continue
		}
		if (cur.factor > 1 && r >= threshold) || (cur.factor < 1 && r <= 1/threshold) {
			cur.start = k
			blocks = append(blocks, cur)
			inBlock = false
		}
	}
	if inBlock {
		cur.start = 0
		blocks = append(blocks, cur)
	}
	return blocks
}

// volumeSpike 跳变行成交量异常放大且附近没有拆股，视为真实行情
func (r *run) volumeSpike(t *core.Table, idx []int, blk changeBlock, opts changeOptions) bool {
	var vols []float64
	for i := range t.Bars {
		if t.Bars[i].Volume > 0 {
			vols = append(vols, t.Bars[i].Volume)
		}
	}
	med := median(vols)
	if math.IsNaN(med) || med == 0 {
		return false
	}
	limit := r.cfg().VolumeSpikeFactor * med
	var jumpRows []int
	if blk.end+1 < len(idx) {
		jumpRows = append(jumpRows, idx[blk.end+1])
	}
	if blk.start > 0 {
		jumpRows = append(jumpRows, idx[blk.start])
	}
	for _, i := range jumpRows {
		if !(t.Bars[i].Volume > limit) {
			continue
		}
		nearSplit := false
		for k := i - 1; k <= i+1; k++ {
			if k >= 0 && k < t.Len() && t.Bars[k].Split != 0 && t.Bars[k].Split != 1 {
				nearSplit = true
			}
		}
		if !nearSplit {
			return true
		}
	}
	return false
}

// applyBlock 将区间内数值除以 factor，成交量乘以 factor
func applyBlock(t *core.Table, blk changeBlock, correctVolume, correctDividends bool) int {
	fields := blk.fields
	wholeRow := fields == nil
	if wholeRow {
		fields = core.PriceFields
	}
	rows := 0
	for i := blk.start; i <= blk.end; i++ {
		b := &t.Bars[i]
		for _, f := range fields {
			b.Set(f, b.Get(f)/blk.factor)
		}
		if wholeRow {
			if correctVolume && !math.IsNaN(b.Volume) {
				b.Volume = math.Round(b.Volume * blk.factor)
			}
			if correctDividends && b.Dividend != 0 {
				b.Dividend /= blk.factor
			}
		}
		b.Repaired = true
		rows++
	}
	return rows
}

// moveSplit 数据实际切换点与记录的拆股日期不一致时，把拆股移到实际切换点
func moveSplit(t *core.Table, splitIdx int, blocks []changeBlock, window int) {
	// 取最新的区间
	newest := blocks[0]
	for _, b := range blocks[1:] {
		if b.end > newest.end {
			newest = b
		}
	}
	boundary := newest.end + 1
	if boundary == splitIdx || boundary >= t.Len() {
		return
	}
	if boundary-splitIdx > window || splitIdx-boundary > window {
		return
	}
	t.Bars[boundary].Split = t.Bars[splitIdx].Split
	t.Bars[splitIdx].Split = 0
	t.Bars[boundary].Repaired = true
}

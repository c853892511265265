package repair

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrepair/pkg/core"
)

// dividendTable 30 行约 50 美元的日线，dropRow 当天跳空 1.00，divRow 记录分红 1.00
func dividendTable(divRow, dropRow int) *core.Table {
	days := businessDays(day(2024, 1, 2), 30)
	bars := make([]core.Bar, len(days))
	closes := make([]float64, len(days))
	for k, d := range days {
		base := 50.0
		if k >= dropRow {
			base = 49
		}
		closes[k] = base + 0.1*float64(k%3-1)
		open := closes[k]
		if k > 0 {
			open = closes[k-1] - 0.05
			if k == dropRow {
				open = closes[k-1] - 1.0
			}
		}
		bars[k] = mkBar(d, open, math.Max(open, closes[k])+0.2, math.Min(open, closes[k])-0.2, closes[k], 1e6)
	}
	bars[divRow].Dividend = 1.0
	return mkTable(core.Interval1d, bars...)
}

func impliedYieldAt(tbl *core.Table, i int) float64 {
	return 1 - tbl.Bars[i-1].AdjustmentMultiplier()/tbl.Bars[i].AdjustmentMultiplier()
}

func TestRepairDividends_AdjustmentMissing(t *testing.T) {
	e := newTestEngine(t, &recordingFetcher{}, testNow)
	out, stats, err := e.Repair(context.Background(), dividendTable(20, 20), ModeOn)
	require.NoError(t, err)

	require.Len(t, stats.Dividends, 1)
	rec := stats.Dividends[0]
	assert.Equal(t, []DivClass{DivAdjMissing}, rec.Classes, "缺失与过小互斥，只能归为缺失")
	assert.InDelta(t, 0.02, impliedYieldAt(out, 20), 1e-9)
	assert.InDelta(t, 1.0, out.Bars[20].Dividend, 1e-12)
	assert.True(t, out.Bars[0].Repaired)
	assert.InDelta(t, out.Bars[25].Close, out.Bars[25].AdjClose, 1e-12, "除息日之后不受影响")
}

func TestRepairDividends_AdjustmentTooSmall(t *testing.T) {
	tbl := dividendTable(20, 20)
	for k := 0; k < 20; k++ {
		tbl.Bars[k].AdjClose = tbl.Bars[k].Close * 0.9999
	}

	e := newTestEngine(t, &recordingFetcher{}, testNow)
	out, stats, err := e.Repair(context.Background(), tbl, ModeOn)
	require.NoError(t, err)

	require.Len(t, stats.Dividends, 1)
	assert.Equal(t, []DivClass{DivAdjTooSmall}, stats.Dividends[0].Classes)
	assert.InDelta(t, 0.02, impliedYieldAt(out, 20), 1e-9, "复权应修正为约 2%")
}

func TestRepairDividends_Phantom(t *testing.T) {
	tbl := dividendTable(20, 20)
	tbl.Bars[22].Dividend = 1.0

	e := newTestEngine(t, &recordingFetcher{}, testNow)
	out, stats, err := e.Repair(context.Background(), tbl, ModeOn)
	require.NoError(t, err)

	assert.Equal(t, 0.0, out.Bars[22].Dividend, "没有价格跌幅的重复记录应被删除")
	assert.Equal(t, 1.0, out.Bars[20].Dividend)
	assert.True(t, out.Bars[22].Repaired)

	classes := map[int][]DivClass{}
	for _, rec := range stats.Dividends {
		classes[out.IndexOf(rec.Date)] = rec.Classes
	}
	assert.Equal(t, []DivClass{DivPhantom}, classes[22])
	assert.Equal(t, []DivClass{DivAdjMissing}, classes[20])
}

func TestRepairDividends_WrongDate(t *testing.T) {
	e := newTestEngine(t, &recordingFetcher{}, testNow)
	in := dividendTable(18, 20)
	out, stats, err := e.Repair(context.Background(), in, ModeOn)
	require.NoError(t, err)

	require.Len(t, stats.Dividends, 1)
	rec := stats.Dividends[0]
	assert.Equal(t, []DivClass{DivWrongDate, DivAdjMissing}, rec.Classes)
	assert.Equal(t, in.Bars[20].Timestamp, rec.MovedTo)
	assert.Equal(t, 0.0, out.Bars[18].Dividend)
	assert.Equal(t, 1.0, out.Bars[20].Dividend)
	assert.InDelta(t, 0.02, impliedYieldAt(out, 20), 1e-9)
	assert.InDelta(t, 0.0, impliedYieldAt(out, 18), 1e-12)
}

func TestRepairDividends_CurrencyTooBig(t *testing.T) {
	tbl := dividendTable(20, 20)
	tbl.Bars[20].Dividend = 100

	e := newTestEngine(t, &recordingFetcher{}, testNow)
	out, stats, err := e.Repair(context.Background(), tbl, ModeOn)
	require.NoError(t, err)

	require.Len(t, stats.Dividends, 1)
	assert.Equal(t, []DivClass{DivCurrencyTooBig, DivAdjMissing}, stats.Dividends[0].Classes)
	assert.InDelta(t, 1.0, out.Bars[20].Dividend, 1e-12)
	assert.InDelta(t, 0.02, impliedYieldAt(out, 20), 1e-9)
}

func TestRepairDividends_CorrectDataUntouched(t *testing.T) {
	tbl := dividendTable(20, 20)
	for k := 0; k < 20; k++ {
		tbl.Bars[k].AdjClose = tbl.Bars[k].Close * (1 - 1.0/tbl.Bars[19].Close)
	}

	e := newTestEngine(t, &recordingFetcher{}, testNow)
	out, stats, err := e.Repair(context.Background(), tbl, ModeOn)
	require.NoError(t, err)
	assert.Empty(t, stats.Dividends)
	assert.Equal(t, 0, out.RepairedCount())
}

func TestRepairDividends_SpecialDividendUntouched(t *testing.T) {
	// 常规分红之外还有一笔远小于常规金额的特别分红，复权完全正确
	tbl := dividendTable(10, 10)
	tbl.Bars[20].Dividend = 0.01
	special := 1 - 0.01/tbl.Bars[19].Close
	regular := 1 - 1.0/tbl.Bars[9].Close
	for k := 0; k < 20; k++ {
		m := special
		if k < 10 {
			m *= regular
		}
		tbl.Bars[k].AdjClose = tbl.Bars[k].Close * m
	}

	e := newTestEngine(t, &recordingFetcher{}, testNow)
	out, stats, err := e.Repair(context.Background(), tbl, ModeOn)
	require.NoError(t, err)
	assert.Empty(t, stats.Dividends, "金额有复权佐证，不应判为辅币错误")
	assert.InDelta(t, 0.01, out.Bars[20].Dividend, 1e-12)
	assert.Equal(t, 0, out.RepairedCount())
}

func TestRepairDividends_WeeklyIgnored(t *testing.T) {
	tbl := dividendTable(20, 20)
	tbl.Interval = core.Interval1wk
	r := testRun(t)
	r.repairDividends(tbl)
	assert.Empty(t, r.stats.Dividends)
}

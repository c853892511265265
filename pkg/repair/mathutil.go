package repair

import (
	"math"
	"sort"
)

// median 忽略 NaN 的中位数，空输入返回 NaN
func median(xs []float64) float64 {
	v := finite(xs)
	if len(v) == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	m := len(v) / 2
	if len(v)%2 == 1 {
		return v[m]
	}
	return (v[m-1] + v[m]) / 2
}

// percentile 线性插值分位数，p 取 [0,100]
func percentile(xs []float64, p float64) float64 {
	v := finite(xs)
	if len(v) == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	if len(v) == 1 {
		return v[0]
	}
	pos := p / 100 * float64(len(v)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return v[lo]
	}
	frac := pos - float64(lo)
	return v[lo] + (v[hi]-v[lo])*frac
}

func finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// roundStep 按步长取整
func roundStep(x, step float64) float64 {
	return math.Round(x/step) * step
}

// round1 保留一位小数
func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// isClose 相对误差判断
func isClose(a, b, rel float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= rel*math.Max(math.Abs(a), math.Abs(b))
}

// medianFilter3x3 3x3 中值滤波，边界按环绕方式取值
func medianFilter3x3(m [][]float64) [][]float64 {
	rows := len(m)
	if rows == 0 {
		return nil
	}
	cols := len(m[0])
	out := make([][]float64, rows)
	window := make([]float64, 0, 9)
	for i := 0; i < rows; i++ {
		out[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			window = window[:0]
			for di := -1; di <= 1; di++ {
				for dj := -1; dj <= 1; dj++ {
					r := ((i+di)%rows + rows) % rows
					c := ((j+dj)%cols + cols) % cols
					window = append(window, m[r][c])
				}
			}
			out[i][j] = median(window)
		}
	}
	return out
}

// nearestToOne 返回与 1 对数距离最近的值
func nearestToOne(xs []float64) float64 {
	best := math.NaN()
	bestDist := math.Inf(1)
	for _, x := range xs {
		if !(x > 0) || math.IsInf(x, 0) {
			continue
		}
		d := math.Abs(math.Log(x))
		if d < bestDist {
			best, bestDist = x, d
		}
	}
	return best
}

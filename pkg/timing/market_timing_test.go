package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarketTime_LastCompletedSession(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("时区数据不可用")
	}

	tests := []struct {
		name     string
		now      time.Time
		expected string
	}{
		{"周四收盘后", time.Date(2025, 8, 21, 16, 30, 0, 0, ny), "2025-08-21"},
		{"周四盘中", time.Date(2025, 8, 21, 10, 0, 0, 0, ny), "2025-08-20"},
		{"周六", time.Date(2025, 8, 23, 10, 0, 0, 0, ny), "2025-08-22"},
		{"周一盘前", time.Date(2025, 8, 25, 8, 0, 0, 0, ny), "2025-08-22"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := NewMarketTime(NewFixedTimeService(tt.now), ny, "16:00")
			assert.Equal(t, tt.expected, mt.LastCompletedSession().Format("2006-01-02"))
		})
	}
}

func TestMarketTime_IsTradingDay(t *testing.T) {
	mt := NewMarketTime(&SystemTimeService{}, time.UTC, "bad")
	assert.True(t, mt.IsTradingDay(time.Date(2025, 8, 22, 12, 0, 0, 0, time.UTC)))
	assert.False(t, mt.IsTradingDay(time.Date(2025, 8, 23, 12, 0, 0, 0, time.UTC)))
}

func TestFixedTimeService_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ft := NewFixedTimeService(start)
	ft.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), ft.Now())
	ft.Set(start)
	assert.Equal(t, start, ft.Now())
}

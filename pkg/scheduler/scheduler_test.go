package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockJobExecutor 模拟任务执行器
type MockJobExecutor struct {
	mu           sync.Mutex
	executedJobs []string
	err          error
}

func (m *MockJobExecutor) Execute(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executedJobs = append(m.executedJobs, job.Config.Name)
	return m.err
}

func (m *MockJobExecutor) executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.executedJobs...)
}

func validJob(name string) JobConfig {
	return JobConfig{
		Name:     name,
		Enabled:  true,
		Schedule: "*/5 * * * * *",
		Symbols:  []string{"AAPL"},
		Interval: "1d",
		Repair:   "silent",
	}
}

func TestNewJobScheduler(t *testing.T) {
	scheduler := NewJobScheduler()

	assert.NotNil(t, scheduler)
	assert.NotNil(t, scheduler.cron)
	assert.NotNil(t, scheduler.jobs)
	assert.NotNil(t, scheduler.logger)
	assert.NotNil(t, scheduler.ctx)
	assert.Equal(t, DefaultJobTimeout, scheduler.timeout)
}

func TestJobScheduler_LoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		expectJobs  int
	}{
		{
			name: "有效配置",
			configYAML: `
jobs:
  - name: "daily-us"
    enabled: true
    schedule: "0 30 17 * * 1-5"
    symbols: ["AAPL", "MSFT"]
    interval: "1d"
    lookback: "720h"
    repair: "on"
    outputs: ["memory"]
  - name: "weekly-lse"
    enabled: false
    schedule: "@weekly"
    symbols: ["HSBA.L"]
    interval: "1wk"
`,
			expectJobs: 2,
		},
		{
			name: "无效的 cron 表达式",
			configYAML: `
jobs:
  - name: "invalid-job"
    enabled: true
    schedule: "invalid-cron"
    symbols: ["AAPL"]
`,
			expectJobs: 0, // 无效任务会被跳过，不会导致整体失败
		},
		{
			name: "缺少必要字段",
			configYAML: `
jobs:
  - name: ""
    enabled: true
    schedule: "*/5 * * * * *"
  - name: "no-symbols"
    enabled: true
    schedule: "*/5 * * * * *"
`,
			expectJobs: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "jobs.yaml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.configYAML), 0644))

			scheduler := NewJobScheduler()
			err := scheduler.LoadConfig(configPath)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Len(t, scheduler.jobs, tt.expectJobs)
		})
	}

	t.Run("回溯时长解析", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "jobs.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte(tests[0].configYAML), 0644))
		scheduler := NewJobScheduler()
		require.NoError(t, scheduler.LoadConfig(configPath))

		job, err := scheduler.GetJob("daily-us")
		require.NoError(t, err)
		assert.Equal(t, 720*time.Hour, job.Config.Lookback)
		assert.Equal(t, []string{"memory"}, job.Config.Outputs)

		disabled, err := scheduler.GetJob("weekly-lse")
		require.NoError(t, err)
		assert.Equal(t, JobStatusDisabled, disabled.Status)
	})

	t.Run("文件不存在", func(t *testing.T) {
		assert.Error(t, NewJobScheduler().LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")))
	})
}

func TestJobScheduler_AddJob(t *testing.T) {
	scheduler := NewJobScheduler()

	require.NoError(t, scheduler.AddJob(validJob("test-job")))

	job, err := scheduler.GetJob("test-job")
	require.NoError(t, err)
	assert.Equal(t, "test-job", job.Config.Name)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.NotEmpty(t, job.ID)

	err = scheduler.AddJob(validJob("test-job"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job already exists")

	invalid := validJob("invalid-job")
	invalid.Schedule = "invalid-cron"
	assert.Error(t, scheduler.AddJob(invalid))
}

func TestJobScheduler_RemoveJob(t *testing.T) {
	scheduler := NewJobScheduler()
	require.NoError(t, scheduler.AddJob(validJob("test-job")))

	assert.NoError(t, scheduler.RemoveJob("test-job"))
	_, err := scheduler.GetJob("test-job")
	assert.Error(t, err)

	err = scheduler.RemoveJob("non-existent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
}

func TestJobScheduler_GetAllJobs(t *testing.T) {
	scheduler := NewJobScheduler()
	assert.Len(t, scheduler.GetAllJobs(), 0)

	for i := 2; i >= 0; i-- {
		require.NoError(t, scheduler.AddJob(validJob(fmt.Sprintf("test-job-%d", i))))
	}

	jobs := scheduler.GetAllJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "test-job-0", jobs[0].Config.Name, "按名称排序")

	// 返回的是副本，不会影响原始数据
	jobs[0].Status = JobStatusError
	originalJob, err := scheduler.GetJob("test-job-0")
	require.NoError(t, err)
	assert.NotEqual(t, JobStatusError, originalJob.Status)
}

func TestJobScheduler_RunJob(t *testing.T) {
	scheduler := NewJobScheduler()
	executor := &MockJobExecutor{}

	require.NoError(t, scheduler.AddJob(validJob("test-job")))
	err := scheduler.RunJob("test-job")
	require.Error(t, err, "未设置执行器")

	scheduler.SetExecutor(executor)
	require.NoError(t, scheduler.RunJob("test-job"))
	assert.Eventually(t, func() bool {
		job, err := scheduler.GetJob("test-job")
		return err == nil && job.RunCount == 1 && job.Status == JobStatusPending
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"test-job"}, executor.executed())

	err = scheduler.RunJob("non-existent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")

	disabled := validJob("disabled-job")
	disabled.Enabled = false
	require.NoError(t, scheduler.AddJob(disabled))
	err = scheduler.RunJob("disabled-job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job disabled")
}

func TestJobScheduler_执行失败记录错误(t *testing.T) {
	scheduler := NewJobScheduler()
	boom := errors.New("provider down")
	scheduler.SetExecutor(&MockJobExecutor{err: boom})
	require.NoError(t, scheduler.AddJob(validJob("failing")))

	require.NoError(t, scheduler.RunJob("failing"))
	assert.Eventually(t, func() bool {
		job, err := scheduler.GetJob("failing")
		return err == nil && job.Status == JobStatusError && errors.Is(job.LastError, boom) && job.ErrorCount == 1
	}, time.Second, 10*time.Millisecond)
}

func TestJobScheduler_StartStop(t *testing.T) {
	scheduler := NewJobScheduler()
	scheduler.SetExecutor(&MockJobExecutor{})
	require.NoError(t, scheduler.AddJob(validJob("test-job")))

	require.NoError(t, scheduler.Start())
	job, err := scheduler.GetJob("test-job")
	require.NoError(t, err)
	require.NotNil(t, job.NextRun)

	require.NoError(t, scheduler.Stop())
	job, err = scheduler.GetJob("test-job")
	require.NoError(t, err)
	assert.Equal(t, JobStatusStopped, job.Status)

	scheduler2 := NewJobScheduler()
	err = scheduler2.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job executor not set")
}

func TestValidateJobConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*JobConfig)
		valid  bool
	}{
		{"有效配置", func(*JobConfig) {}, true},
		{"缺少任务名称", func(c *JobConfig) { c.Name = "" }, false},
		{"缺少调度表达式", func(c *JobConfig) { c.Schedule = "" }, false},
		{"无效的调度表达式", func(c *JobConfig) { c.Schedule = "invalid-cron" }, false},
		{"缺少标的", func(c *JobConfig) { c.Symbols = nil }, false},
		{"无效粒度", func(c *JobConfig) { c.Interval = "7m" }, false},
		{"粒度可省略", func(c *JobConfig) { c.Interval = "" }, true},
		{"负回溯", func(c *JobConfig) { c.Lookback = -time.Hour }, false},
		{"无效修复模式", func(c *JobConfig) { c.Repair = "sometimes" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validJob("test-job")
			tt.mutate(&cfg)
			err := ValidateJobConfig(cfg)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

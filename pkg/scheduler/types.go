package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// JobConfig 定义单个刷新任务的配置
type JobConfig struct {
	Name     string   `yaml:"name" json:"name" mapstructure:"name"`
	Enabled  bool     `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Schedule string   `yaml:"schedule" json:"schedule" mapstructure:"schedule"` // 秒级 cron 表达式
	Symbols  []string `yaml:"symbols" json:"symbols" mapstructure:"symbols"`
	Interval string   `yaml:"interval" json:"interval" mapstructure:"interval"`
	// Lookback 从最近一个已收盘交易日往前取的时长
	Lookback   time.Duration `yaml:"lookback" json:"lookback" mapstructure:"lookback"`
	Repair     string        `yaml:"repair" json:"repair" mapstructure:"repair"` // off, on, silent
	AutoAdjust bool          `yaml:"auto_adjust" json:"auto_adjust" mapstructure:"auto_adjust"`
	// Outputs 写入的存储后端名称，如 memory、csv、influxdb
	Outputs []string `yaml:"outputs" json:"outputs" mapstructure:"outputs"`
}

// JobsConfig 定义整个任务配置文件结构
type JobsConfig struct {
	Jobs []JobConfig `yaml:"jobs" json:"jobs" mapstructure:"jobs"`
}

// Job 表示一个运行中的任务
type Job struct {
	ID         string
	Config     JobConfig
	EntryID    cron.EntryID
	Status     JobStatus
	LastRun    *time.Time
	NextRun    *time.Time
	RunCount   int64
	ErrorCount int64
	LastError  error
}

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusStopped  JobStatus = "stopped"
	JobStatusError    JobStatus = "error"
	JobStatusDisabled JobStatus = "disabled"
)

// JobExecutor 任务执行器接口
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// JobScheduler 任务调度器接口
type JobScheduler interface {
	// 加载配置
	LoadConfig(configPath string) error

	// 启动调度器
	Start() error

	// 停止调度器
	Stop() error

	// 添加任务
	AddJob(config JobConfig) error

	// 移除任务
	RemoveJob(jobName string) error

	// 获取任务状态
	GetJob(jobName string) (*Job, error)

	// 获取所有任务
	GetAllJobs() []*Job

	// 手动执行任务
	RunJob(jobName string) error

	// 设置任务执行器
	SetExecutor(executor JobExecutor)
}

package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"stockrepair/pkg/core"
	"stockrepair/pkg/logger"
	"stockrepair/pkg/repair"
)

// DefaultJobTimeout 单次任务执行的超时时间
const DefaultJobTimeout = 5 * time.Minute

// cronParser 支持秒级调度
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DefaultJobScheduler 默认任务调度器实现
type DefaultJobScheduler struct {
	cron     *cron.Cron
	jobs     map[string]*Job
	executor JobExecutor
	mu       sync.RWMutex
	logger   *logrus.Entry
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewJobScheduler 创建新的任务调度器
func NewJobScheduler() *DefaultJobScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &DefaultJobScheduler{
		cron:    cron.New(cron.WithParser(cronParser)),
		jobs:    make(map[string]*Job),
		logger:  logger.WithComponent("scheduler"),
		timeout: DefaultJobTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// LoadConfig 从配置文件加载任务配置
func (s *DefaultJobScheduler) LoadConfig(configPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	// 使用 viper 加载配置
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var config JobsConfig
	if err := v.Unmarshal(&config); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	s.loadJobs(config.Jobs)
	return nil
}

// LoadJobs 批量添加任务，无效任务记录日志后跳过
func (s *DefaultJobScheduler) LoadJobs(configs []JobConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadJobs(configs)
}

func (s *DefaultJobScheduler) loadJobs(configs []JobConfig) {
	for _, jobConfig := range configs {
		if err := ValidateJobConfig(jobConfig); err != nil {
			s.logger.WithError(err).Warnf("skipping invalid job: %s", jobConfig.Name)
			continue
		}

		if err := s.addJobInternal(jobConfig); err != nil {
			s.logger.WithError(err).Errorf("failed to add job: %s", jobConfig.Name)
			continue
		}
	}

	s.logger.Infof("loaded %d jobs", len(s.jobs))
}

// SetTimeout 设置单次任务执行的超时时间
func (s *DefaultJobScheduler) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeout > 0 {
		s.timeout = timeout
	}
}

// Start 启动调度器
func (s *DefaultJobScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.executor == nil {
		return fmt.Errorf("job executor not set")
	}

	s.cron.Start()
	s.logger.Info("scheduler started")

	// 更新任务的下次运行时间
	s.updateNextRunTimes()

	return nil
}

// Stop 停止调度器
func (s *DefaultJobScheduler) Stop() error {
	s.mu.Lock()
	s.cancel()
	ctx := s.cron.Stop()
	for _, job := range s.jobs {
		if job.Status == JobStatusPending {
			job.Status = JobStatusStopped
		}
	}
	s.mu.Unlock()

	// 等待所有任务完成
	select {
	case <-ctx.Done():
		s.logger.Info("scheduler stopped")
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}

	return nil
}

// AddJob 添加任务
func (s *DefaultJobScheduler) AddJob(config JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateJobConfig(config); err != nil {
		return err
	}

	return s.addJobInternal(config)
}

// RemoveJob 移除任务
func (s *DefaultJobScheduler) RemoveJob(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobName]
	if !exists {
		return fmt.Errorf("job not found: %s", jobName)
	}

	s.cron.Remove(job.EntryID)
	delete(s.jobs, jobName)

	s.logger.Infof("job removed: %s", jobName)
	return nil
}

// GetJob 获取任务状态
func (s *DefaultJobScheduler) GetJob(jobName string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobName]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobName)
	}

	// 创建副本避免并发修改
	jobCopy := *job
	return &jobCopy, nil
}

// GetAllJobs 获取所有任务
func (s *DefaultJobScheduler) GetAllJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobCopy := *job
		jobs = append(jobs, &jobCopy)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Config.Name < jobs[j].Config.Name })

	return jobs
}

// RunJob 手动执行任务
func (s *DefaultJobScheduler) RunJob(jobName string) error {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	executor := s.executor
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job not found: %s", jobName)
	}

	if !job.Config.Enabled {
		return fmt.Errorf("job disabled: %s", jobName)
	}

	if executor == nil {
		return fmt.Errorf("job executor not set")
	}

	// 在新的 goroutine 中执行任务
	go s.executeJob(job)
	return nil
}

// SetExecutor 设置任务执行器
func (s *DefaultJobScheduler) SetExecutor(executor JobExecutor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executor = executor
}

// ValidateJobConfig 验证任务配置
func ValidateJobConfig(config JobConfig) error {
	if config.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}

	if config.Schedule == "" {
		return fmt.Errorf("job %s: schedule cannot be empty", config.Name)
	}

	if _, err := cronParser.Parse(config.Schedule); err != nil {
		return fmt.Errorf("job %s: invalid schedule '%s': %w", config.Name, config.Schedule, err)
	}

	if len(config.Symbols) == 0 {
		return fmt.Errorf("job %s: no symbols", config.Name)
	}

	if config.Interval != "" {
		if _, err := core.ParseInterval(config.Interval); err != nil {
			return fmt.Errorf("job %s: %w", config.Name, err)
		}
	}

	if config.Lookback < 0 {
		return fmt.Errorf("job %s: lookback cannot be negative", config.Name)
	}

	if _, err := repair.ParseMode(config.Repair); err != nil {
		return fmt.Errorf("job %s: %w", config.Name, err)
	}

	return nil
}

// addJobInternal 内部添加任务方法（需要持有锁）
func (s *DefaultJobScheduler) addJobInternal(config JobConfig) error {
	// 检查任务是否已存在
	if _, exists := s.jobs[config.Name]; exists {
		return fmt.Errorf("job already exists: %s", config.Name)
	}

	// 创建任务
	job := &Job{
		ID:     uuid.New().String(),
		Config: config,
		Status: JobStatusPending,
	}

	if !config.Enabled {
		job.Status = JobStatusDisabled
		s.jobs[config.Name] = job
		s.logger.Infof("job added (disabled): %s", config.Name)
		return nil
	}

	// 添加到 cron 调度器
	entryID, err := s.cron.AddFunc(config.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	job.EntryID = entryID
	s.jobs[config.Name] = job

	s.logger.Infof("job added: %s (schedule: %s)", config.Name, config.Schedule)
	return nil
}

// executeJob 执行任务
func (s *DefaultJobScheduler) executeJob(job *Job) {
	s.mu.Lock()
	if job.Status == JobStatusRunning {
		s.mu.Unlock()
		s.logger.Warnf("job still running, skipping: %s", job.Config.Name)
		return
	}
	job.Status = JobStatusRunning
	now := time.Now()
	job.LastRun = &now
	job.RunCount++
	executor, timeout := s.executor, s.timeout
	snapshot := *job
	s.mu.Unlock()

	s.logger.Infof("job started: %s", job.Config.Name)

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	err := executor.Execute(ctx, &snapshot)

	s.mu.Lock()
	if err != nil {
		job.Status = JobStatusError
		job.LastError = err
		job.ErrorCount++
		s.logger.WithError(err).Errorf("job failed: %s", job.Config.Name)
	} else {
		job.Status = JobStatusPending
		job.LastError = nil
		s.logger.Infof("job finished: %s", job.Config.Name)
	}
	s.updateNextRunTimes()
	s.mu.Unlock()
}

// updateNextRunTimes 更新所有任务的下次运行时间
func (s *DefaultJobScheduler) updateNextRunTimes() {
	entries := s.cron.Entries()
	for _, job := range s.jobs {
		if job.Config.Enabled {
			for _, entry := range entries {
				if entry.ID == job.EntryID {
					nextRun := entry.Next
					job.NextRun = &nextRun
					break
				}
			}
		}
	}
}

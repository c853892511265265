package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"stockrepair/pkg/cache"
	"stockrepair/pkg/logger"
	"stockrepair/pkg/provider/decorators"
	"stockrepair/pkg/provider/yahoo"
	"stockrepair/pkg/repair"
	"stockrepair/pkg/scheduler"
	"stockrepair/pkg/storage"
)

// EnvPrefix 环境变量前缀，如 STOCKREPAIR_SERVER_ADDR
const EnvPrefix = "STOCKREPAIR"

// Config 主配置结构
type Config struct {
	// 数据源配置
	Provider ProviderConfig `mapstructure:"provider"`

	// 修复阈值
	Repair repair.Config `mapstructure:"repair"`

	// 日志配置
	Logger logger.Config `mapstructure:"logger"`

	// 获取缓存与时区缓存
	Cache CacheConfig            `mapstructure:"cache"`
	Redis cache.RedisCacheConfig `mapstructure:"redis"`

	// 存储后端
	CSV      storage.CSVConfig    `mapstructure:"csv"`
	InfluxDB storage.InfluxConfig `mapstructure:"influxdb"`

	// HTTP 服务
	Server ServerConfig `mapstructure:"server"`

	// 定时刷新任务
	Jobs []scheduler.JobConfig `mapstructure:"jobs"`
}

// ProviderConfig 数据源配置
type ProviderConfig struct {
	Yahoo      yahoo.Config                 `mapstructure:"yahoo"`
	MaxRetries int                          `mapstructure:"max_retries"` // HTTP 层重试次数
	Decorators []decorators.DecoratorConfig `mapstructure:"decorators"`
}

// CacheConfig 缓存后端选择
type CacheConfig struct {
	Backend string                  `mapstructure:"backend"` // memory, redis
	Memory  cache.MemoryCacheConfig `mapstructure:"memory"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RequestTimeout 单个历史查询的超时，包含修复时的细粒度请求
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Yahoo:      yahoo.DefaultConfig(),
			MaxRetries: 0,
			Decorators: decorators.DefaultDecoratorConfig().Decorators,
		},
		Repair: repair.DefaultConfig(),
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Cache: CacheConfig{
			Backend: "memory",
			Memory: cache.MemoryCacheConfig{
				MaxSize:         1000,
				DefaultTTL:      10 * time.Minute,
				CleanupInterval: time.Minute,
			},
		},
		Redis: cache.RedisCacheConfig{
			Addr:       "localhost:6379",
			KeyPrefix:  "stockrepair:",
			DefaultTTL: 10 * time.Minute,
		},
		CSV:      storage.CSVConfig{Directory: "data"},
		InfluxDB: storage.DefaultInfluxConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			Mode:           "release",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   2 * time.Minute,
			RequestTimeout: 90 * time.Second,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Provider.Yahoo.BaseURL == "" {
		return errors.New("provider base_url cannot be empty")
	}

	if c.Provider.Yahoo.Timeout <= 0 {
		return errors.New("provider timeout must be positive")
	}

	if c.Provider.Yahoo.RateLimit < 0 {
		return errors.New("provider rate_limit cannot be negative")
	}

	if c.Provider.MaxRetries < 0 {
		return errors.New("provider max_retries cannot be negative")
	}

	if err := c.Repair.Validate(); err != nil {
		return fmt.Errorf("repair: %w", err)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis addr is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		return errors.New("influxdb url, org and bucket are required when enabled")
	}

	if c.Server.Addr == "" {
		return errors.New("server addr cannot be empty")
	}

	if c.Server.RequestTimeout <= 0 {
		return errors.New("server request_timeout must be positive")
	}

	names := make(map[string]bool, len(c.Jobs))
	for _, job := range c.Jobs {
		if err := scheduler.ValidateJobConfig(job); err != nil {
			return err
		}
		if names[job.Name] {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
		names[job.Name] = true
	}

	return nil
}

// DecoratorConfig 数据源装饰器链配置
func (c *Config) DecoratorConfig() decorators.ProviderDecoratorConfig {
	return decorators.ProviderDecoratorConfig{Decorators: c.Provider.Decorators}
}

// SetProviderTimeout 设置数据源超时时间
func (c *Config) SetProviderTimeout(timeout time.Duration) *Config {
	c.Provider.Yahoo.Timeout = timeout
	return c
}

// SetRateLimit 设置请求频率限制
func (c *Config) SetRateLimit(limit time.Duration) *Config {
	c.Provider.Yahoo.RateLimit = limit
	return c
}

// SetCacheBackend 设置缓存后端
func (c *Config) SetCacheBackend(backend string) *Config {
	c.Cache.Backend = backend
	return c
}

// SetServerAddr 设置监听地址
func (c *Config) SetServerAddr(addr string) *Config {
	c.Server.Addr = addr
	return c
}

// SetLogLevel 设置日志级别
func (c *Config) SetLogLevel(level string) *Config {
	c.Logger.Level = level
	return c
}

// envKeys 可通过环境变量覆盖的配置项
var envKeys = []string{
	"logger.level", "logger.format", "logger.output",
	"provider.yahoo.base_url", "provider.yahoo.timeout", "provider.yahoo.rate_limit", "provider.max_retries",
	"cache.backend",
	"redis.addr", "redis.password", "redis.db",
	"csv.directory",
	"influxdb.enabled", "influxdb.url", "influxdb.token", "influxdb.org", "influxdb.bucket",
	"server.addr", "server.mode", "server.request_timeout",
}

// Load 从 yaml 文件与环境变量加载配置，path 为空时只读取环境变量
// 未出现的配置项保持默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Default()
	// 列表整体替换而不是按下标合并
	if v.IsSet("provider.decorators") {
		cfg.Provider.Decorators = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stockrepair/pkg/cache"
	"stockrepair/pkg/config"
	"stockrepair/pkg/history"
	"stockrepair/pkg/logger"
	"stockrepair/pkg/metrics"
	"stockrepair/pkg/provider"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/provider/decorators"
	"stockrepair/pkg/provider/yahoo"
	"stockrepair/pkg/repair"
	"stockrepair/pkg/storage"
)

// app 按配置装配好的各个组件
type app struct {
	cfg       *config.Config
	store     cache.Cache
	providers *provider.ProviderManager
	fetcher   pcore.HistoryFetcher
	engine    *repair.Engine
	client    *history.Client
	metrics   *metrics.Metrics
	log       *logrus.Entry
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Logger)
	gin.SetMode(cfg.Server.Mode)
	return cfg, nil
}

// newApp 装配数据源、装饰器链、修复引擎与客户端
func newApp(cfg *config.Config, prepost bool) (*app, error) {
	a := &app{
		cfg:       cfg,
		providers: provider.NewProviderManager(),
		metrics:   metrics.New(),
		log:       logger.WithComponent("app"),
	}

	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis":
		a.store = cache.NewRedisCache(cfg.Redis)
	default:
		a.store = cache.NewMemoryCache(cfg.Cache.Memory)
	}

	base := yahoo.NewProvider(cfg.Provider.Yahoo)
	base.SetMaxRetries(cfg.Provider.MaxRetries)

	fetcher, err := decorators.CreateDecoratedFetcher(base, a.store, cfg.DecoratorConfig())
	if err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("build provider chain: %w", err)
	}
	if err := a.providers.Register("yahoo", fetcher); err != nil {
		_ = a.store.Close()
		return nil, err
	}
	a.fetcher = fetcher

	a.engine, err = repair.NewEngine(fetcher, cfg.Repair,
		repair.WithExtendedHours(prepost),
		repair.WithLogger(logger.WithComponent("repair")))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build repair engine: %w", err)
	}

	a.client = history.NewClient(fetcher, a.engine,
		history.WithMetrics(a.metrics),
		history.WithLocationResolver(history.NewLocationResolver(a.store, fetcher, nil)))

	a.log.WithFields(logrus.Fields{
		"cache":      cfg.Cache.Backend,
		"decorators": len(cfg.Provider.Decorators),
	}).Debug("components ready")
	return a, nil
}

// sinks 按配置创建存储后端，memory 总是可用
func (a *app) sinks(ctx context.Context) (map[string]storage.Writer, *storage.MemoryStore, error) {
	mem := storage.NewMemoryStore()
	sinks := map[string]storage.Writer{"memory": mem}

	csvWriter, err := storage.NewCSVWriter(a.cfg.CSV)
	if err != nil {
		return nil, nil, err
	}
	sinks["csv"] = csvWriter

	if a.cfg.InfluxDB.Enabled {
		influx, err := storage.NewInfluxWriter(ctx, a.cfg.InfluxDB)
		if err != nil {
			return nil, nil, err
		}
		sinks["influxdb"] = influx
	}
	return sinks, mem, nil
}

// Close 释放数据源与缓存
func (a *app) Close() error {
	return errors.Join(a.providers.Close(), a.store.Close())
}

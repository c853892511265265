package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stockrepair/pkg/history"
	"stockrepair/pkg/logger"
	"stockrepair/pkg/metrics"
	"stockrepair/pkg/provider"
	"stockrepair/pkg/scheduler"
	"stockrepair/pkg/storage"
)

// Server 历史数据修复服务的 HTTP 接口
type Server struct {
	client    *history.Client
	providers *provider.ProviderManager
	store     *storage.MemoryStore
	jobs      *scheduler.DefaultJobScheduler
	metrics   *metrics.Metrics

	requestTimeout time.Duration
	log            *logrus.Entry
	server         *http.Server
	router         *gin.Engine
}

// Option 服务选项
type Option func(*Server)

// WithProviders 健康检查时检查数据源状态
func WithProviders(m *provider.ProviderManager) Option {
	return func(s *Server) { s.providers = m }
}

// WithStore 暴露定时任务写入的内存数据
func WithStore(store *storage.MemoryStore) Option {
	return func(s *Server) { s.store = store }
}

// WithScheduler 暴露定时任务状态与手动触发
func WithScheduler(jobs *scheduler.DefaultJobScheduler) Option {
	return func(s *Server) { s.jobs = jobs }
}

// WithMetrics 暴露 /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRequestTimeout 单个历史查询的超时
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// NewServer 创建服务并注册路由
func NewServer(client *history.Client, opts ...Option) *Server {
	s := &Server{
		client:         client,
		requestTimeout: 90 * time.Second,
		log:            logger.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler 返回路由，便于测试
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(s.loggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/history/:symbol", s.getHistory)
		v1.GET("/timezone/:symbol", s.getTimezone)

		if s.store != nil {
			v1.GET("/stored", s.listStored)
			v1.GET("/stored/:symbol", s.getStored)
		}

		if s.jobs != nil {
			v1.GET("/jobs", s.listJobs)
			v1.POST("/jobs/:name/run", s.runJob)
		}
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return router
}

// Start 在后台启动 HTTP 服务
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	s.log.WithField("addr", addr).Info("Starting API server...")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 端口占用等错误会立即返回
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

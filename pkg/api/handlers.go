package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stockrepair/pkg/core"
	apperr "stockrepair/pkg/error"
	"stockrepair/pkg/history"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/repair"
	"stockrepair/pkg/scheduler"
	"stockrepair/pkg/storage"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HistoryResponse 历史数据响应
type HistoryResponse struct {
	Symbol   string        `json:"symbol"`
	Interval core.Interval `json:"interval"`
	Meta     core.Metadata `json:"meta"`
	Bars     []core.Bar    `json:"bars"`
	Repair   *repair.Stats `json:"repair,omitempty"`
}

// JobView 任务状态
type JobView struct {
	Name       string              `json:"name"`
	Status     scheduler.JobStatus `json:"status"`
	Schedule   string              `json:"schedule"`
	Symbols    []string            `json:"symbols"`
	Interval   string              `json:"interval"`
	LastRun    *time.Time          `json:"last_run,omitempty"`
	NextRun    *time.Time          `json:"next_run,omitempty"`
	RunCount   int64               `json:"run_count"`
	ErrorCount int64               `json:"error_count"`
	LastError  string              `json:"last_error,omitempty"`
}

func (s *Server) healthCheck(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	services := map[string]string{}

	if s.providers != nil {
		for name, ok := range s.providers.Healthy() {
			if ok {
				services[name] = "healthy"
				continue
			}
			services[name] = "unhealthy"
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"services":  services,
	})
}

func (s *Server) getHistory(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	params, err := s.historyParams(ctx, symbol, c)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := s.client.History(ctx, symbol, params)
	if err != nil {
		s.fail(c, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "csv") {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		if err := storage.WriteCSV(c.Writer, res.Table); err != nil {
			_ = c.Error(err)
		}
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Symbol:   symbol,
		Interval: res.Table.Interval,
		Meta:     res.Table.Meta,
		Bars:     res.Table.Bars,
		Repair:   res.Stats,
	})
}

// historyParams 解析查询参数，日期按交易所时区解释
func (s *Server) historyParams(ctx context.Context, symbol string, c *gin.Context) (history.Params, error) {
	var p history.Params

	interval, err := core.ParseInterval(c.DefaultQuery("interval", string(core.Interval1d)))
	if err != nil {
		return p, apperr.WrapError(apperr.CodeInvalidRequest, "invalid interval", err)
	}
	p.Interval = interval

	mode, err := repair.ParseMode(c.Query("repair"))
	if err != nil {
		return p, apperr.WrapError(apperr.CodeInvalidRequest, "invalid repair mode", err)
	}
	p.Repair = mode

	for name, dst := range map[string]*bool{
		"auto_adjust": &p.AutoAdjust,
		"back_adjust": &p.BackAdjust,
		"rounding":    &p.Rounding,
		"prepost":     &p.Prepost,
	} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return p, apperr.NewError(apperr.CodeInvalidRequest, "invalid boolean for "+name)
		}
		*dst = v
	}

	start, end := c.Query("start"), c.Query("end")
	if start == "" && end == "" {
		return p, nil
	}

	// 先检查格式，避免为无效参数访问数据源
	for _, raw := range []string{start, end} {
		if _, err := history.ParseDate(raw, time.UTC); err != nil {
			return p, apperr.WrapError(apperr.CodeInvalidRequest, "invalid date", err)
		}
	}

	loc := time.UTC
	if resolved, err := s.client.Locations().Resolve(ctx, symbol); err == nil {
		loc = resolved
	} else {
		s.log.WithError(err).WithField("symbol", symbol).Debug("timezone unresolved, using UTC")
	}

	if p.Start, err = history.ParseDate(start, loc); err != nil {
		return p, apperr.WrapError(apperr.CodeInvalidRequest, "invalid start", err)
	}
	if p.End, err = history.ParseDate(end, loc); err != nil {
		return p, apperr.WrapError(apperr.CodeInvalidRequest, "invalid end", err)
	}
	return p, nil
}

func (s *Server) getTimezone(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	loc, err := s.client.Locations().Resolve(ctx, symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "timezone": loc.String()})
}

func (s *Server) listStored(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tables": s.store.List()})
}

func (s *Server) getStored(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	interval, err := core.ParseInterval(c.DefaultQuery("interval", string(core.Interval1d)))
	if err != nil {
		s.fail(c, apperr.WrapError(apperr.CodeInvalidRequest, "invalid interval", err))
		return
	}

	table, err := s.store.Read(c.Request.Context(), symbol, interval)
	if err != nil {
		s.fail(c, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "csv") {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		if err := storage.WriteCSV(c.Writer, table); err != nil {
			_ = c.Error(err)
		}
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{
		Symbol:   symbol,
		Interval: table.Interval,
		Meta:     table.Meta,
		Bars:     table.Bars,
	})
}

func (s *Server) listJobs(c *gin.Context) {
	jobs := s.jobs.GetAllJobs()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) runJob(c *gin.Context) {
	name := c.Param("name")
	if _, err := s.jobs.GetJob(name); err != nil {
		c.JSON(http.StatusNotFound, s.errorBody(c, "not_found", err.Error()))
		return
	}
	if err := s.jobs.RunJob(name); err != nil {
		c.JSON(http.StatusConflict, s.errorBody(c, "conflict", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": name, "status": "triggered"})
}

func newJobView(job *scheduler.Job) JobView {
	v := JobView{
		Name:       job.Config.Name,
		Status:     job.Status,
		Schedule:   job.Config.Schedule,
		Symbols:    job.Config.Symbols,
		Interval:   job.Config.Interval,
		LastRun:    job.LastRun,
		NextRun:    job.NextRun,
		RunCount:   job.RunCount,
		ErrorCount: job.ErrorCount,
	}
	if job.LastError != nil {
		v.LastError = job.LastError.Error()
	}
	return v
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status, kind := statusOf(err)
	c.JSON(status, s.errorBody(c, kind, err.Error()))
}

func (s *Server) errorBody(c *gin.Context, kind, message string) ErrorResponse {
	return ErrorResponse{Error: kind, Message: message, RequestID: c.GetString(requestIDKey)}
}

// statusOf 把错误映射为 HTTP 状态码
func statusOf(err error) (int, string) {
	switch {
	case apperr.CodeOf(err) == apperr.CodeInvalidRequest,
		errors.Is(err, core.ErrInvalidInterval),
		errors.Is(err, core.ErrInvalidSymbol),
		errors.Is(err, core.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, pcore.ErrProviderRejected):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pcore.ErrLookbackExceeded):
		return http.StatusUnprocessableEntity, "lookback_exceeded"
	case errors.Is(err, pcore.ErrRateLimitExceeded),
		errors.Is(err, pcore.ErrCircuitOpen),
		errors.Is(err, pcore.ErrProviderNotHealthy):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusBadGateway, "upstream_error"
}

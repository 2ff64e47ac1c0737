package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"candlesync/internal/market"
	"candlesync/internal/store/synclog"
	"candlesync/internal/syncer"

	"github.com/gin-gonic/gin"
)

// Server 提供 Gin 接口：区间保障、K 线查询、手动触发同步、状态查询。
type Server struct {
	addr      string
	gate      *syncer.Gate
	cache     CoverageReader
	scheduler *syncer.Scheduler
	audit     *synclog.Store
	router    *gin.Engine
}

// CoverageReader 是状态接口需要的缓存读取能力。
type CoverageReader interface {
	Coverage(ctx context.Context, symbol, timeframe string) (*market.Coverage, error)
	Symbols(ctx context.Context) ([]string, error)
	Timeframes(ctx context.Context) ([]string, error)
}

type ServerConfig struct {
	Addr      string
	Gate      *syncer.Gate
	Cache     CoverageReader
	Scheduler *syncer.Scheduler
	Audit     *synclog.Store
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Gate == nil || cfg.Cache == nil {
		return nil, errors.New("gate/cache 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		gate:      cfg.Gate,
		cache:     cfg.Cache,
		scheduler: cfg.Scheduler,
		audit:     cfg.Audit,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	data := s.router.Group("/api/data")
	data.POST("/ensure", s.handleEnsure)
	data.GET("/candles", s.handleCandles)
	data.GET("/coverage", s.handleCoverage)
	data.GET("/symbols", s.handleSymbols)
	data.GET("/timeframes", s.handleTimeframes)

	sync := s.router.Group("/api/sync")
	sync.POST("/trigger", s.handleTrigger)
	sync.GET("/status", s.handleStatus)
	sync.GET("/runs", s.handleRuns)
}

// handleEnsure 同步阻塞直到区间可用或失败，回测引擎据此决定能否继续。
func (s *Server) handleEnsure(c *gin.Context) {
	var req struct {
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outcome, err := s.gate.Ensure(c.Request.Context(), req.Symbol, req.Timeframe, req.StartTS, req.EndTS)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	if start <= 0 || end <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_ts/end_ts 必填"})
		return
	}
	data, err := s.gate.Read(c.Request.Context(), symbol, tf, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if limit, _ := strconv.Atoi(c.Query("limit")); limit > 0 && limit < len(data) {
		data = data[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *Server) handleCoverage(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	cov, err := s.cache.Coverage(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coverage": cov})
}

func (s *Server) handleSymbols(c *gin.Context) {
	list, err := s.cache.Symbols(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": list})
}

func (s *Server) handleTimeframes(c *gin.Context) {
	list, err := s.cache.Timeframes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeframes": list, "supported": market.SupportedTimeframes()})
}

// handleTrigger 手动触发后台刷新：给定 symbol+timeframe 只刷新该 pair，
// 否则全量刷新。立即返回 202，不等待执行。
func (s *Server) handleTrigger(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "调度器未启用"})
		return
	}
	var req struct {
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
	}
	// body 允许为空：空请求即全量触发
	_ = c.ShouldBindJSON(&req)
	if req.Symbol != "" && req.Timeframe != "" {
		if err := s.scheduler.Trigger(context.WithoutCancel(c.Request.Context()), req.Symbol, req.Timeframe); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"triggered": req.Symbol + "@" + req.Timeframe})
		return
	}
	s.scheduler.TriggerAll(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusAccepted, gin.H{"triggered": "all"})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "调度器未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairs": s.scheduler.Status()})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "审计存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	var (
		runs []synclog.SyncRun
		err  error
	)
	if symbol != "" && tf != "" {
		runs, err = s.audit.RecentForPair(c.Request.Context(), symbol, tf, limit)
	} else {
		runs, err = s.audit.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

package backtesthttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trendflip/internal/backtest"
	"trendflip/internal/config"
	"trendflip/internal/config/loader"
	"trendflip/internal/market"
	"trendflip/internal/report"
	"trendflip/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Launcher 是 Server 依赖的回测执行入口（*backtest.Runner 实现）。
type Launcher interface {
	DefaultSpec() backtest.RunSpec
	Submit(spec backtest.RunSpec) (backtest.Run, error)
	Dataset(ctx context.Context) (backtest.Dataset, error)
}

// ProfileSource 提供命名参数组快照（*loader.ProfileLoader 实现）。
type ProfileSource interface {
	Snapshot() loader.ProfileSnapshot
}

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr     string
	runner   Launcher
	repo     backtest.RunRepository
	profiles ProfileSource
	svc      *backtest.Service
	router   *gin.Engine
	schema   *jsonschema.Schema
}

// Config 描述回测 HTTP Server 的依赖。Profiles 与 Svc 可为空。
type Config struct {
	Addr     string
	Runner   Launcher
	Repo     backtest.RunRepository
	Profiles ProfileSource
	Svc      *backtest.Service
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("runner 不能为空")
	}
	if cfg.Repo == nil {
		return nil, errors.New("结果存储不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	schema, err := compileSchema(runRequestSchema)
	if err != nil {
		return nil, fmt.Errorf("编译请求 schema 失败: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     cfg.Addr,
		runner:   cfg.Runner,
		repo:     cfg.Repo,
		profiles: cfg.Profiles,
		svc:      cfg.Svc,
		router:   router,
		schema:   schema,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露底层路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/chart", s.handleRunChart)
	api.GET("/profiles", s.handleProfiles)

	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/candles", s.handleCandles)
}

func (s *Server) handleRunStart(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := validateBody(s.schema, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec, err := s.buildSpec(doc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runner.Submit(spec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

// buildSpec 以 profile（或主配置）为基线，叠加请求中的 strategy 覆盖项。
func (s *Server) buildSpec(doc map[string]any) (backtest.RunSpec, error) {
	spec := s.runner.DefaultSpec()
	spec.Label = ""
	if v, ok := doc["label"].(string); ok {
		spec.Label = strings.TrimSpace(v)
	}
	if v, ok := doc["export"].(bool); ok {
		spec.Export = v
	}
	if name, ok := doc["profile"].(string); ok && strings.TrimSpace(name) != "" {
		name = strings.TrimSpace(name)
		if s.profiles == nil {
			return spec, fmt.Errorf("profiles are not configured")
		}
		def, found := findProfile(s.profiles.Snapshot(), name)
		if !found {
			return spec, fmt.Errorf("unknown profile %q", name)
		}
		spec.Profile = def.Name
		spec.Strategy = def.Strategy
		if spec.Label == "" {
			spec.Label = def.Name
		}
	}
	if raw, ok := doc["strategy"].(map[string]any); ok && len(raw) > 0 {
		sc, err := config.DecodeStrategy(raw, spec.Strategy)
		if err != nil {
			return spec, fmt.Errorf("strategy: %w", err)
		}
		spec.Strategy = sc
	}
	spec.Strategy.AllowedSides = append(config.SideList(nil), spec.Strategy.AllowedSides...)
	if err := spec.Strategy.Validate(); err != nil {
		return spec, err
	}
	if _, err := backtest.TradableDates(spec.Strategy); err != nil {
		return spec, err
	}
	return spec, nil
}

func findProfile(snap loader.ProfileSnapshot, name string) (loader.ProfileDefinition, bool) {
	for key, def := range snap.Profiles {
		if strings.EqualFold(key, name) {
			return def, true
		}
	}
	return loader.ProfileDefinition{}, false
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.repo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.repo.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	trades, err := s.repo.ListTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeRepoError(c, err)
		return
	}
	if c.Query("executed") == "true" {
		trades = executedOnly(trades)
	}
	out := make([]tradeView, len(trades))
	for i, t := range trades {
		out[i] = newTradeView(t)
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) handleRunChart(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := s.repo.GetRun(ctx, c.Param("id"))
	if err != nil {
		writeRepoError(c, err)
		return
	}
	if run.Status != backtest.RunStatusDone {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("run is %s", run.Status)})
		return
	}
	trades, err := s.repo.ListTrades(ctx, run.ID)
	if err != nil {
		writeRepoError(c, err)
		return
	}
	ds, err := s.runner.Dataset(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	days, err := run.Config.DateFilter()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	bars := market.FilterDates(ds.Bars, days)
	if len(bars) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "run has no bars to chart"})
		return
	}
	var buf bytes.Buffer
	err = report.RenderChart(&buf, bars, trades, report.ChartOptions{
		Title:           fmt.Sprintf("%s %s %s", run.Config.Symbol, run.Config.Timeframe, run.Label),
		TrendLength:     run.Config.TrendLength,
		TrendMultiplier: run.Config.TrendMultiplier,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleProfiles(c *gin.Context) {
	if s.profiles == nil {
		c.JSON(http.StatusOK, gin.H{"profiles": []profileView{}})
		return
	}
	snap := s.profiles.Snapshot()
	out := make([]profileView, 0, len(snap.Profiles))
	for _, name := range snap.Names() {
		def := snap.Profiles[name]
		out = append(out, profileView{
			Name:        def.Name,
			Description: def.Description,
			Default:     def.Default,
			Strategy:    newStrategyView(def.Strategy),
		})
	}
	c.JSON(http.StatusOK, gin.H{"version": snap.Version, "profiles": out})
}

func (s *Server) handleFetch(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情下载未启用"})
		return
	}
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.SubmitFetch(backtest.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     time.UnixMilli(req.StartTS).UTC(),
		End:       time.UnixMilli(req.EndTS).UTC(),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情下载未启用"})
		return
	}
	job, ok := s.svc.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []backtest.FetchJob{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.JobsSnapshot()})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情下载未启用"})
		return
	}
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.svc.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情下载未启用"})
		return
	}
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	var start, end time.Time
	if v, err := strconv.ParseInt(c.Query("start_ts"), 10, 64); err == nil && v > 0 {
		start = time.UnixMilli(v).UTC()
	}
	if v, err := strconv.ParseInt(c.Query("end_ts"), 10, 64); err == nil && v > 0 {
		end = time.UnixMilli(v).UTC()
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	bars, err := s.svc.Bars(c.Request.Context(), symbol, tf, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"candles": bars})
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

func writeRepoError(c *gin.Context, err error) {
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func executedOnly(trades []strategy.Trade) []strategy.Trade {
	out := make([]strategy.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Executed {
			out = append(out, t)
		}
	}
	return out
}

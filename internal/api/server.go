package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/riskeye/internal/alert"
	"github.com/riskeye/internal/auth"
	"github.com/riskeye/internal/metrics"
	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/monitor"
	"github.com/riskeye/internal/monitorcfg"
	"github.com/riskeye/internal/repository"
	"github.com/riskeye/internal/threshold"
)

// Deps are the components served over HTTP. Orchestrator and Scheduler
// are optional.
type Deps struct {
	Repo         repository.Repository
	Config       *monitorcfg.Resolver
	Thresholds   *threshold.Resolver
	Manager      *alert.ThresholdManager
	Snooze       *alert.SnoozeHandler
	Orchestrator monitor.CycleRunner
	Scheduler    *monitor.Scheduler
	Metrics      *metrics.Metrics
	Issuer       *auth.Issuer
	Logger       *zap.Logger
}

type Server struct {
	deps   Deps
	router *gin.Engine
	srv    *http.Server
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(ginzap.Ginzap(deps.Logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(deps.Logger, true))

	server := &Server{deps: deps, router: router}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	api := s.router.Group("/api/v1")
	api.Use(s.deps.Issuer.Middleware())
	operator := auth.RequireRole(auth.RoleOperator)

	cfg := api.Group("/config")
	{
		cfg.GET("", s.getConfig)
		cfg.PUT("", operator, s.saveConfig)
		cfg.GET("/value", s.getConfigValue)
		cfg.GET("/precedence", s.getPrecedence)
		cfg.PUT("/precedence", operator, s.setPrecedence)
	}

	thresholds := api.Group("/thresholds")
	{
		thresholds.GET("", s.listThresholds)
		thresholds.POST("", operator, s.addThreshold)
		thresholds.POST("/test", s.testThreshold)
		thresholds.GET("/liquid/:symbol", s.inspectLiquid)
		thresholds.GET("/profit/:key", s.inspectProfit)
	}

	alerts := api.Group("/alerts")
	{
		alerts.GET("", s.listAlerts)
		alerts.POST("", operator, s.createAlert)
		alerts.GET("/:id", s.getAlert)
		alerts.DELETE("/:id", operator, s.deleteAlert)
		alerts.POST("/:id/snooze", operator, s.snoozeAlert)
		alerts.DELETE("/:id/snooze", operator, s.unsnoozeAlert)
	}
	api.POST("/snooze/reset/:section", operator, s.resetSectionSnooze)

	api.GET("/logs", s.listLogs)
	api.POST("/cycle", operator, s.runCycle)
	api.GET("/scheduler", s.schedulerStats)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port until Shutdown.
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if s.deps.Scheduler != nil {
		if err := s.deps.Scheduler.Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "halted", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, status)
}

// --- config -------------------------------------------------------------------

func (s *Server) getConfig(c *gin.Context) {
	res, err := s.deps.Config.Load(c.Request.Context(), monitorcfg.DocumentMonitor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) saveConfig(c *gin.Context) {
	var doc monitorcfg.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.deps.Config.Save(c.Request.Context(), monitorcfg.DocumentMonitor, doc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !res.OK {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getConfigValue(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	v, err := s.deps.Config.Get(c.Request.Context(), monitorcfg.DocumentMonitor, path, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "path not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "value": v})
}

func (s *Server) getPrecedence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"policy": s.deps.Config.Policy()})
}

func (s *Server) setPrecedence(c *gin.Context) {
	var req struct {
		Policy string `json:"policy" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy, err := monitorcfg.ParsePolicy(req.Policy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.deps.Config.SetPolicy(policy)
	c.JSON(http.StatusOK, gin.H{"policy": policy})
}

// --- thresholds ---------------------------------------------------------------

func (s *Server) listThresholds(c *gin.Context) {
	items, err := s.deps.Manager.ListThresholds(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) addThreshold(c *gin.Context) {
	var t models.Threshold
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t.ID = ""
	t.LastModified = time.Time{}
	if err := s.deps.Manager.AddThreshold(c.Request.Context(), &t); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) testThreshold(c *gin.Context) {
	var req struct {
		Condition models.Condition `json:"condition" binding:"required"`
		Bands     alert.Bands      `json:"bands"`
		Values    []float64        `json:"values" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	steps, err := alert.SimulateBands(req.Condition, req.Bands, req.Values)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, steps)
}

func (s *Server) inspectLiquid(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Thresholds.InspectLiquid(c.Request.Context(), c.Param("symbol")))
}

func (s *Server) inspectProfit(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Thresholds.InspectProfit(c.Request.Context(), c.Param("key")))
}

// --- alerts -------------------------------------------------------------------

func (s *Server) listAlerts(c *gin.Context) {
	items, err := s.deps.Repo.ActiveAlerts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) createAlert(c *gin.Context) {
	var cfg models.AlertConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.State = nil
	cfg.CreatedAt = time.Time{}
	if err := s.deps.Manager.ProvisionAlert(c.Request.Context(), &cfg); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func (s *Server) getAlert(c *gin.Context) {
	cfg, err := s.deps.Repo.GetConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) deleteAlert(c *gin.Context) {
	if err := s.deps.Repo.DeleteConfig(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert deleted successfully"})
}

func (s *Server) snoozeAlert(c *gin.Context) {
	var req struct {
		Seconds int `json:"seconds" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := s.deps.Snooze.Snooze(c.Request.Context(), c.Param("id"), time.Duration(req.Seconds)*time.Second)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) unsnoozeAlert(c *gin.Context) {
	state, err := s.deps.Snooze.Unsnooze(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) resetSectionSnooze(c *gin.Context) {
	n, err := s.deps.Snooze.UnsnoozeSection(c.Request.Context(), c.Param("section"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"section": c.Param("section"), "cleared": n})
}

// --- audit log / cycles -------------------------------------------------------

func (s *Server) listLogs(c *gin.Context) {
	params := repository.ListLogsParams{Limit: 100}
	if id := c.Query("alert_id"); id != "" {
		params.AlertID = &id
	}
	if p := c.Query("phase"); p != "" {
		phase := models.Phase(p)
		params.Phase = &phase
	}
	if l := c.Query("level"); l != "" {
		level := models.LogLevel(l)
		params.Level = &level
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		params.Since = &t
	}
	if limit := c.Query("limit"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		params.Limit = l
	}

	items, err := s.deps.Repo.ListLogs(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) runCycle(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator not configured"})
		return
	}
	report, err := s.deps.Orchestrator.RunCycle(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) schedulerStats(c *gin.Context) {
	if s.deps.Scheduler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduler not running"})
		return
	}
	resp := gin.H{"stats": s.deps.Scheduler.Stats()}
	if err := s.deps.Scheduler.Err(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateAlert):
		return http.StatusConflict
	case errors.Is(err, alert.ErrInvalidBands):
		return http.StatusBadRequest
	case alert.IsStorageError(err):
		return http.StatusServiceUnavailable
	case alert.IsInterrupted(err):
		return http.StatusGatewayTimeout
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

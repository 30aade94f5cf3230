package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"admoderation/internal/api/middleware"
	"admoderation/internal/audit"
	"admoderation/internal/config"
	"admoderation/internal/console"
	"admoderation/internal/filter"
	"admoderation/internal/model"
	"admoderation/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 控制台 HTTP 服务。
//
// 它持有会话管理器、幂等守卫、审计查询以及 Gin 路由引擎。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	router   *gin.Engine
	sessions SessionStore
	guard    IdempotencyGuard
	history  HistoryStore
	checks   map[string]HealthCheck
}

// SessionStore 会话的创建与查找。
type SessionStore interface {
	Create() (string, *console.Session)
	Get(id string) (*console.Session, error)
}

// IdempotencyGuard 批量提交的幂等键守卫。
type IdempotencyGuard interface {
	Claim(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
}

// HistoryStore 查询已落库的决定记录。
type HistoryStore interface {
	History(ctx context.Context, adID int64, limit int) ([]audit.DecisionRecord, error)
}

// HealthCheck 健康检查项。
type HealthCheck func(ctx context.Context) error

// Option 配置 Server。
type Option func(*Server)

// WithIdempotency 启用批量提交幂等检查。
func WithIdempotency(g IdempotencyGuard) Option {
	return func(s *Server) {
		s.guard = g
	}
}

// WithHistory 启用决定历史查询。
func WithHistory(h HistoryStore) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithHealthCheck 注册 /healthz 检查项。
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// NewServer 初始化 HTTP 服务器并注册路由。
//
// 参数:
//
//	cfg: 配置对象
//	logger: 日志记录器
//	sessions: 会话管理器
//	opts: 可选依赖
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
func NewServer(cfg *config.Config, logger *slog.Logger, sessions SessionStore, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   r,
		sessions: sessions,
		checks:   make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/sessions", s.handleCreateSession)
	s.router.GET("/reasons", s.handleReasons)

	sess := s.router.Group("/")
	sess.Use(middleware.SessionRequired(s.sessions))
	sess.GET("/queue", s.handleQueue)
	sess.PUT("/queue/filters", s.handleApplyFilters)
	sess.POST("/queue/reset", s.handleResetFilters)
	sess.PUT("/queue/page", s.handleChangePage)
	sess.POST("/selection/toggle", s.handleToggleSelection)
	sess.POST("/selection/toggle-all", s.handleToggleAll)
	sess.DELETE("/selection", s.handleClearSelection)
	sess.GET("/ads/:id", s.handleDetail)
	sess.GET("/ads/:id/history", s.handleHistory)
	sess.POST("/ads/:id/decision", s.handleDecide)
	sess.POST("/decisions/bulk", s.handleDecideBulk)
	sess.GET("/stats", s.handleStats)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", slog.String("check", name), slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "check": name})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	id, _ := s.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{"session_id": id})
}

// handleReasons 返回拒绝与退回可选的原因，以及详情页“退回修改”的默认请求体。
func (s *Server) handleReasons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"reasons":               model.Reasons,
		"defaultRequestChanges": model.RequestOf(model.DefaultRequestChanges()),
	})
}

// handleQueue 按查询参数恢复筛选状态并加载当前页。
//
// 没有查询参数时沿用会话中的状态。
func (s *Server) handleQueue(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	if query := c.Request.URL.Query(); len(query) > 0 {
		sess.Navigate(query)
	}
	s.respondQueue(c, sess)
}

// filtersRequest 提交筛选条件的请求体。
type filtersRequest struct {
	Statuses   []model.AdStatus `json:"statuses"`
	CategoryID *int64           `json:"categoryId"`
	MinPrice   *float64         `json:"minPrice"`
	MaxPrice   *float64         `json:"maxPrice"`
	Search     string           `json:"search"`
	SortBy     model.SortField  `json:"sortBy"`
	SortOrder  model.SortOrder  `json:"sortOrder"`
}

func (r filtersRequest) state() (filter.State, error) {
	for _, st := range r.Statuses {
		if !st.Valid() {
			return filter.State{}, errors.New("unknown status " + string(st))
		}
	}
	sortBy, sortOrder := r.SortBy, r.SortOrder
	if sortBy == "" {
		sortBy = model.SortByCreatedAt
	}
	if sortOrder == "" {
		sortOrder = model.OrderDesc
	}
	if !sortBy.Valid() || !sortOrder.Valid() {
		return filter.State{}, errors.New("invalid sort")
	}
	return filter.Default().
		WithStatuses(r.Statuses...).
		WithCategory(r.CategoryID).
		WithPriceRange(r.MinPrice, r.MaxPrice).
		WithSearch(r.Search).
		WithSort(sortBy, sortOrder), nil
}

func (s *Server) handleApplyFilters(c *gin.Context) {
	var req filtersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	next, err := req.state()
	if err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	sess := middleware.SessionFrom(c)
	sess.ApplyFilters(next)
	s.respondQueue(c, sess)
}

func (s *Server) handleResetFilters(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	sess.ResetFilters()
	s.respondQueue(c, sess)
}

type pageRequest struct {
	Page int `json:"page" binding:"required"`
}

func (s *Server) handleChangePage(c *gin.Context) {
	var req pageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	sess := middleware.SessionFrom(c)
	sess.ChangePage(req.Page)
	s.respondQueue(c, sess)
}

func (s *Server) respondQueue(c *gin.Context, sess *console.Session) {
	view, err := sess.LoadQueue(c.Request.Context())
	if err != nil {
		status, code := classify(err)
		c.JSON(status, gin.H{
			"error": gin.H{"code": code, "message": err.Error()},
			"view":  view,
		})
		return
	}
	c.JSON(http.StatusOK, view)
}

type toggleRequest struct {
	ID int64 `json:"id" binding:"required"`
}

func (s *Server) handleToggleSelection(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	view, err := middleware.SessionFrom(c).ToggleSelection(req.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleToggleAll(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.SessionFrom(c).ToggleAllVisible())
}

func (s *Server) handleClearSelection(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.SessionFrom(c).ClearSelection())
}

func (s *Server) handleDetail(c *gin.Context) {
	id, ok := adID(c)
	if !ok {
		return
	}
	details, err := middleware.SessionFrom(c).Detail(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// historyResponse 单条已落库的决定。
type historyResponse struct {
	EventID   string    `json:"eventId"`
	BatchID   string    `json:"batchId,omitempty"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Status    string    `json:"status"`
	DecidedAt time.Time `json:"decidedAt"`
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		writeError(c, http.StatusServiceUnavailable, "history_unavailable", "decision journal is not configured")
		return
	}
	id, ok := adID(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid limit")
		return
	}
	records, err := s.history.History(c.Request.Context(), id, limit)
	if err != nil {
		s.logger.Error("load decision history failed", slog.Int64("ad_id", id), slog.String("error", err.Error()))
		writeError(c, http.StatusInternalServerError, codeInternal, "load history failed")
		return
	}
	out := make([]historyResponse, 0, len(records))
	for _, r := range records {
		out = append(out, historyResponse{
			EventID:   r.EventID,
			BatchID:   r.BatchID,
			Action:    r.Action,
			Reason:    r.Reason,
			Comment:   r.Comment,
			Status:    r.Status,
			DecidedAt: r.DecidedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"adId": id, "history": out})
}

func (s *Server) handleDecide(c *gin.Context) {
	id, ok := adID(c)
	if !ok {
		return
	}
	d, ok := bindDecision(c)
	if !ok {
		return
	}
	details, err := middleware.SessionFrom(c).Decide(c.Request.Context(), id, d)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ad": details})
}

// handleDecideBulk 对会话中选中的广告提交同一决定。
//
// 携带 Idempotency-Key 时，同一会话内相同的键只会执行一次；
// 执行失败会释放键以便重试。
func (s *Server) handleDecideBulk(c *gin.Context) {
	d, ok := bindDecision(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	scope := "bulk:" + middleware.SessionID(c)
	key := c.GetHeader("Idempotency-Key")

	if s.guard != nil && key != "" {
		claimed, err := s.guard.Claim(ctx, scope, key)
		if err != nil {
			s.logger.Warn("idempotency check failed", slog.String("error", err.Error()))
		} else if !claimed {
			metrics.IdempotentReplaysTotal.Inc()
			writeError(c, http.StatusConflict, "duplicate_request", "bulk decision with this idempotency key was already submitted")
			return
		}
	}

	succeeded, err := middleware.SessionFrom(c).DecideSelected(ctx, d)
	if err != nil && s.guard != nil && key != "" {
		if relErr := s.guard.Release(context.WithoutCancel(ctx), scope, key); relErr != nil {
			s.logger.Warn("release idempotency key failed", slog.String("error", relErr.Error()))
		}
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"succeeded": succeeded, "failed": gin.H{}})
}

func (s *Server) handleStats(c *gin.Context) {
	var q model.StatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	bundle, err := middleware.SessionFrom(c).Stats(c.Request.Context(), q)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func adID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, codeBadRequest, "invalid ad id")
		return 0, false
	}
	return id, true
}

func bindDecision(c *gin.Context) (model.Decision, bool) {
	var req model.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return nil, false
	}
	d, err := req.Decision()
	if err != nil {
		writeError(c, http.StatusBadRequest, codeBadRequest, err.Error())
		return nil, false
	}
	return d, true
}

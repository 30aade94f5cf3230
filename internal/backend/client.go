package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"admoderation/internal/model"
	"admoderation/internal/pkg/metrics"
)

// 默认后端地址与超时。
const (
	DefaultBaseURL = "http://localhost:3001/api/v1"
	DefaultTimeout = 10 * time.Second
)

// maxErrorBody 读取错误响应体的上限。
const maxErrorBody = 4 << 10

// Acquirer 出站请求前获取令牌。
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// StatusError 后端返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound 判断错误是否为后端 404。
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client 审核后端的 HTTP 客户端。
type Client struct {
	baseURL string
	http    *http.Client
	limiter Acquirer
	logger  *slog.Logger
}

// Option 客户端配置选项。
type Option func(*Client)

// WithLimiter 设置出站限流器。
func WithLimiter(l Acquirer) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithHTTPClient 替换底层 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient 创建后端客户端。
//
// 参数:
//   - baseURL: 后端 API 前缀，为空时使用 DefaultBaseURL
//   - timeout: 单个请求的超时，<= 0 时使用 DefaultTimeout
//   - opts: 可选配置
//
// 返回值:
//   - *Client: 客户端实例
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pagination struct {
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
}

type listResponse struct {
	Ads        []model.Advertisement `json:"ads"`
	Pagination pagination            `json:"pagination"`
}

type decisionResponse struct {
	Message string              `json:"message"`
	Ad      model.Advertisement `json:"ad"`
}

// ListAds 查询一页广告摘要。
func (c *Client) ListAds(ctx context.Context, q model.ListQuery) (model.Page[model.AdSummary], error) {
	var resp listResponse
	if err := c.do(ctx, "list_ads", http.MethodGet, "/ads", q.Values(), nil, &resp); err != nil {
		return model.Page[model.AdSummary]{}, err
	}
	items := make([]model.AdSummary, 0, len(resp.Ads))
	for _, ad := range resp.Ads {
		items = append(items, model.SummaryFromAd(ad))
	}
	return model.Page[model.AdSummary]{
		Items:    items,
		Total:    resp.Pagination.TotalItems,
		Page:     resp.Pagination.CurrentPage,
		PageSize: resp.Pagination.ItemsPerPage,
	}, nil
}

// GetAd 查询单条广告详情。
func (c *Client) GetAd(ctx context.Context, id int64) (model.AdDetails, error) {
	var ad model.Advertisement
	if err := c.do(ctx, "get_ad", http.MethodGet, adPath(id, ""), nil, nil, &ad); err != nil {
		return model.AdDetails{}, err
	}
	return model.DetailsFromAd(ad), nil
}

// SubmitDecision 提交一条决定，返回后端确认后的广告。
func (c *Client) SubmitDecision(ctx context.Context, id int64, d model.Decision) (model.AdDetails, error) {
	var (
		endpoint string
		path     string
		body     any
	)
	switch v := d.(type) {
	case model.Approve:
		endpoint, path = "approve", adPath(id, "/approve")
	case model.Reject:
		endpoint, path = "reject", adPath(id, "/reject")
		body = model.FeedbackBody{Reason: v.Reason, Comment: v.Comment}
	case model.RequestChanges:
		endpoint, path = "request_changes", adPath(id, "/request-changes")
		body = model.FeedbackBody{Reason: v.Reason, Comment: v.Comment}
	default:
		return model.AdDetails{}, fmt.Errorf("unsupported decision %T", d)
	}

	var resp decisionResponse
	if err := c.do(ctx, endpoint, http.MethodPost, path, nil, body, &resp); err != nil {
		return model.AdDetails{}, err
	}
	return model.DetailsFromAd(resp.Ad), nil
}

// Summary 查询统计汇总。
func (c *Client) Summary(ctx context.Context, q model.StatsQuery) (model.StatsSummary, error) {
	var out model.StatsSummary
	err := c.do(ctx, "stats_summary", http.MethodGet, "/stats/summary", q.Values(), nil, &out)
	return out, err
}

// Activity 查询按天的审核活动。
func (c *Client) Activity(ctx context.Context, q model.StatsQuery) ([]model.ActivityPoint, error) {
	out := []model.ActivityPoint{}
	err := c.do(ctx, "stats_activity", http.MethodGet, "/stats/chart/activity", q.Values(), nil, &out)
	return out, err
}

// Decisions 查询各类决定的数量。
func (c *Client) Decisions(ctx context.Context, q model.StatsQuery) (model.DecisionTotals, error) {
	var out model.DecisionTotals
	err := c.do(ctx, "stats_decisions", http.MethodGet, "/stats/chart/decisions", q.Values(), nil, &out)
	return out, err
}

// Categories 查询按分类的数量。
func (c *Client) Categories(ctx context.Context, q model.StatsQuery) (model.CategoryTotals, error) {
	out := model.CategoryTotals{}
	err := c.do(ctx, "stats_categories", http.MethodGet, "/stats/chart/categories", q.Values(), nil, &out)
	return out, err
}

func adPath(id int64, suffix string) string {
	return "/ads/" + strconv.FormatInt(id, 10) + suffix
}

// do 发送请求并把 JSON 响应解码到 out。
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
		metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal body: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		c.logger.Warn("backend request failed",
			slog.String("endpoint", endpoint),
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%s: %w", endpoint, statusErr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// readErrorMessage 从错误响应体中提取 error 或 message 字段。
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

package console

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"admoderation/internal/filter"
	"admoderation/internal/model"
	"admoderation/internal/moderation"
	"admoderation/internal/pkg/metrics"
	"admoderation/internal/selection"
	"admoderation/internal/stats"
	"admoderation/internal/store"
)

var (
	// ErrStaleResponse 列表响应返回时筛选条件已经改变，响应被丢弃。
	ErrStaleResponse = errors.New("queue response superseded by newer filters")
	// ErrNotVisible 要选择的广告不在当前页。
	ErrNotVisible = errors.New("ad is not on the current page")
)

// DefaultPageSize 队列每页条数。
const DefaultPageSize = 10

// Backend 会话需要的全部后端能力。
type Backend interface {
	store.Fetcher
	moderation.Submitter
	stats.Source
}

// Deps 创建会话所需的依赖。
type Deps struct {
	Backend         Backend
	PageSize        int
	Logger          *slog.Logger
	ExecutorOptions []moderation.Option
}

// Category 当前页出现过的分类，用于分类下拉框。
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// View 最近一次展示给审核员的队列状态。
type View struct {
	Location    string                      `json:"location"`
	Page        model.Page[model.AdSummary] `json:"page"`
	TotalPages  int                         `json:"totalPages"`
	Selected    []int64                     `json:"selected"`
	AllSelected bool                        `json:"allSelected"`
	Categories  []Category                  `json:"categories"`
	Stale       bool                        `json:"stale"`
	Error       string                      `json:"error,omitempty"`
}

// Session 一个审核员的控制台状态。
//
// 筛选条件、选择集、广告缓存与统计缓存都属于会话，互不共享。
// mu 只保护内存状态，网络请求期间不持锁。
type Session struct {
	pageSize int
	logger   *slog.Logger
	store    *store.Store
	stats    *stats.Aggregator
	executor *moderation.Executor

	mu       sync.Mutex
	filters  filter.State
	selected *selection.Set
	page     model.Page[model.AdSummary]
	loaded   bool
	lastErr  error
	lastSeen time.Time
}

// NewSession 创建会话。
func NewSession(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	st := store.New(deps.Backend, logger)
	agg := stats.NewAggregator(deps.Backend, logger)
	return &Session{
		pageSize: pageSize,
		logger:   logger,
		store:    st,
		stats:    agg,
		executor: moderation.NewExecutor(deps.Backend, st, agg, logger, deps.ExecutorOptions...),
		filters:  filter.Default(),
		selected: selection.New(),
		page:     model.Page[model.AdSummary]{Items: []model.AdSummary{}, Page: 1, PageSize: pageSize},
		lastSeen: time.Now(),
	}
}

// Filters 返回当前筛选状态。
func (s *Session) Filters() filter.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// Location 返回可分享的查询参数。
func (s *Session) Location() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter.Encode(s.filters)
}

// Navigate 从查询参数恢复状态。
//
// 筛选条件变化时清空选择；只有页码变化时保留选择。
func (s *Session) Navigate(values url.Values) {
	next := filter.Decode(values)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if !filter.SameFilters(s.filters, next) {
		s.selected.Clear()
	}
	s.filters = next
}

// ApplyFilters 提交新的筛选条件，回到第 1 页并清空选择。
func (s *Session) ApplyFilters(next filter.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	next.Page = 1
	s.filters = next
	s.selected.Clear()
}

// ResetFilters 恢复默认筛选条件。
func (s *Session) ResetFilters() {
	s.ApplyFilters(filter.Default())
}

// ChangePage 只修改页码，保留选择。
func (s *Session) ChangePage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.filters = s.filters.WithPage(page)
}

// LoadQueue 加载当前筛选条件对应的一页。
//
// 请求返回时如果筛选条件或页码已经变化，响应被丢弃并返回 ErrStaleResponse。
// 加载失败时优先展示该查询上一次成功的数据，否则保留当前展示的数据，并把错误附加到 View 上。
//
// 参数:
//
//	ctx: 上下文
//
// 返回值:
//
//	View: 当前展示状态
//	error: ErrStaleResponse 或 KindFetch
func (s *Session) LoadQueue(ctx context.Context) (View, error) {
	s.mu.Lock()
	s.touch()
	current := s.filters
	s.mu.Unlock()

	key := current.Key()
	query := current.Query(s.pageSize)
	page, err := s.store.FetchPage(ctx, query)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filters.Key() != key {
		metrics.StaleResponsesTotal.Inc()
		s.logger.Debug("discard stale queue response", slog.Int("page", current.Page))
		return s.viewLocked(), ErrStaleResponse
	}
	if err != nil {
		if cached, _, ok := s.store.Page(query); ok {
			s.page = cached
		}
		s.lastErr = err
		return s.viewLocked(), err
	}
	s.page = page
	s.loaded = true
	s.lastErr = nil
	return s.viewLocked(), nil
}

// View 返回当前展示状态，不发起请求。
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// ToggleSelection 切换当前页上某条广告的选中状态。
func (s *Session) ToggleSelection(id int64) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if !s.visibleLocked(id) {
		return s.viewLocked(), ErrNotVisible
	}
	s.selected.Toggle(id)
	return s.viewLocked(), nil
}

// ToggleAllVisible 全选或取消全选当前页。
func (s *Session) ToggleAllVisible() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.selected.ToggleAllVisible(s.visibleIDsLocked())
	return s.viewLocked()
}

// ClearSelection 清空选择。
func (s *Session) ClearSelection() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.selected.Clear()
	return s.viewLocked()
}

// Selected 返回升序的选中 id。
func (s *Session) Selected() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected.IDs()
}

// Detail 加载广告详情。
func (s *Session) Detail(ctx context.Context, id int64) (model.AdDetails, error) {
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
	return s.store.FetchDetail(ctx, id)
}

// Decide 对单条广告提交决定。
func (s *Session) Decide(ctx context.Context, id int64, d model.Decision) (model.AdDetails, error) {
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()

	details, err := s.executor.Decide(ctx, id, d)
	if err != nil {
		return details, err
	}
	s.mu.Lock()
	s.patchPageLocked(details.AdSummary)
	s.mu.Unlock()
	return details, nil
}

// DecideSelected 对选中的全部广告提交同一决定。
//
// 成功的 id 从选择中移除，失败的 id 保持选中以便重试。
//
// 返回值:
//
//	[]int64: 成功的 id
//	error: KindValidation 或 *failure.BulkError
func (s *Session) DecideSelected(ctx context.Context, d model.Decision) ([]int64, error) {
	s.mu.Lock()
	s.touch()
	ids := s.selected.IDs()
	s.mu.Unlock()

	succeeded, err := s.executor.DecideBulk(ctx, ids, d)

	if len(succeeded) > 0 {
		s.mu.Lock()
		s.selected.Remove(succeeded...)
		for _, id := range succeeded {
			if details, ok := s.store.Detail(id); ok {
				s.patchPageLocked(details.AdSummary)
			}
		}
		s.mu.Unlock()
	}
	return succeeded, err
}

// Stats 加载统计数据。
func (s *Session) Stats(ctx context.Context, q model.StatsQuery) (model.StatsBundle, error) {
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
	return s.stats.Load(ctx, q)
}

// LastSeen 返回最近一次操作的时间。
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch() {
	s.lastSeen = time.Now()
}

// patchPageLocked 让展示中的页与决定结果保持一致。
func (s *Session) patchPageLocked(summary model.AdSummary) {
	for i := range s.page.Items {
		if s.page.Items[i].ID == summary.ID {
			s.page.Items[i] = summary
		}
	}
}

func (s *Session) visibleIDsLocked() []int64 {
	ids := make([]int64, 0, len(s.page.Items))
	for _, item := range s.page.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

func (s *Session) visibleLocked(id int64) bool {
	for _, item := range s.page.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) viewLocked() View {
	items := make([]model.AdSummary, len(s.page.Items))
	copy(items, s.page.Items)
	page := s.page
	page.Items = items

	v := View{
		Location:    filter.Encode(s.filters).Encode(),
		Page:        page,
		TotalPages:  page.TotalPages(),
		Selected:    s.selected.IDs(),
		AllSelected: s.selected.AllSelected(s.visibleIDsLocked()),
		Categories:  categoriesOf(items),
		Stale:       s.lastErr != nil || !s.loaded,
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	return v
}

// categoriesOf 按首次出现顺序返回页上的分类。
func categoriesOf(items []model.AdSummary) []Category {
	seen := make(map[int64]struct{}, len(items))
	out := make([]Category, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.CategoryID]; ok {
			continue
		}
		seen[item.CategoryID] = struct{}{}
		out = append(out, Category{ID: item.CategoryID, Name: item.Category})
	}
	return out
}

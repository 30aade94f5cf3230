package store

import (
	"context"
	"log/slog"
	"sync"

	"admoderation/internal/failure"
	"admoderation/internal/model"
	"admoderation/internal/pkg/metrics"
)

// Fetcher 从后端读取广告。
type Fetcher interface {
	ListAds(ctx context.Context, q model.ListQuery) (model.Page[model.AdSummary], error)
	GetAd(ctx context.Context, id int64) (model.AdDetails, error)
}

type pageEntry struct {
	page  model.Page[model.AdSummary]
	stale bool
}

// Store 会话内的广告缓存。
//
// 列表页按查询键缓存，详情按 id 缓存。所有读写都在 mu 下完成，网络请求期间不持锁。
// epoch 在每次队列失效时递增，失效前发起的请求返回后只会以过期状态写入。
type Store struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu      sync.RWMutex
	pages   map[string]*pageEntry
	details map[int64]model.AdDetails
	// decisions 每写入一次决定结果递增；decidedSeq 记录每个 id 最近一次写入时的序号。
	// 请求返回时序号比发起时大的 id 以决定结果为准。
	decisions  uint64
	decidedSeq map[int64]uint64
	epoch      uint64
}

// New 创建空缓存。
func New(fetcher Fetcher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		fetcher:    fetcher,
		logger:     logger,
		pages:      make(map[string]*pageEntry),
		details:    make(map[int64]model.AdDetails),
		decidedSeq: make(map[int64]uint64),
	}
}

// FetchPage 返回查询对应的一页摘要。
//
// 有未过期的缓存时直接返回；否则请求后端。请求失败时返回该查询最近一次成功的结果
// （可能为空）以及 failure.KindFetch 错误，调用方可以继续展示旧数据。
// 请求期间写入过决定结果的广告，返回和缓存的摘要都以决定结果为准。
//
// 参数:
//
//	ctx: 上下文
//	q: 列表查询
//
// 返回值:
//
//	model.Page[model.AdSummary]: 一页数据
//	error: 请求失败时返回
func (s *Store) FetchPage(ctx context.Context, q model.ListQuery) (model.Page[model.AdSummary], error) {
	key := q.Key()

	s.mu.RLock()
	entry, ok := s.pages[key]
	if ok && !entry.stale {
		page := copyPage(entry.page)
		s.mu.RUnlock()
		return page, nil
	}
	epoch, decisions := s.epoch, s.decisions
	s.mu.RUnlock()

	page, err := s.fetcher.ListAds(ctx, q)
	if err != nil {
		s.logger.Warn("fetch queue page failed",
			slog.Int("page", q.Page),
			slog.String("error", err.Error()))
		s.mu.RLock()
		defer s.mu.RUnlock()
		if prev, ok := s.pages[key]; ok {
			return copyPage(prev.page), failure.Fetch("fetch page", err)
		}
		return model.Page[model.AdSummary]{}, failure.Fetch("fetch page", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	page = copyPage(page)
	if s.decisions != decisions {
		s.overlayDecidedLocked(&page, decisions)
	}
	s.pages[key] = &pageEntry{
		page:  copyPage(page),
		stale: epoch != s.epoch,
	}
	return page, nil
}

// overlayDecidedLocked 把 since 之后写入的决定结果覆盖到页上。
func (s *Store) overlayDecidedLocked(page *model.Page[model.AdSummary], since uint64) {
	for i := range page.Items {
		id := page.Items[i].ID
		if s.decidedSeq[id] <= since {
			continue
		}
		if details, ok := s.details[id]; ok {
			page.Items[i] = details.AdSummary
		}
	}
}

// FetchDetail 返回广告详情。
//
// 失败策略与 FetchPage 相同。请求期间如果该广告已经写入了决定结果，
// 以决定结果为准，丢弃这次较旧的响应。
func (s *Store) FetchDetail(ctx context.Context, id int64) (model.AdDetails, error) {
	s.mu.RLock()
	if details, ok := s.details[id]; ok {
		s.mu.RUnlock()
		return details, nil
	}
	seq := s.decidedSeq[id]
	s.mu.RUnlock()

	details, err := s.fetcher.GetAd(ctx, id)
	if err != nil {
		s.logger.Warn("fetch ad detail failed",
			slog.Int64("ad_id", id),
			slog.String("error", err.Error()))
		s.mu.RLock()
		defer s.mu.RUnlock()
		if prev, ok := s.details[id]; ok {
			return prev, failure.Fetch("fetch detail", err)
		}
		return model.AdDetails{}, failure.Fetch("fetch detail", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decidedSeq[id] != seq {
		if current, ok := s.details[id]; ok {
			return current, nil
		}
	}
	s.details[id] = details
	return details, nil
}

// ApplyDecisionResult 写入后端确认后的广告。
//
// 详情整体替换，所有缓存页中同 id 的摘要在同一把锁内更新，
// 不存在详情与摘要状态不一致的时刻。
func (s *Store) ApplyDecisionResult(details model.AdDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.details[details.ID] = details
	s.decisions++
	s.decidedSeq[details.ID] = s.decisions

	for _, entry := range s.pages {
		for i := range entry.page.Items {
			if entry.page.Items[i].ID == details.ID {
				entry.page.Items[i] = details.AdSummary
			}
		}
	}
}

// InvalidateQueue 将所有缓存页标记为过期，返回受影响的页数。
func (s *Store) InvalidateQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	n := 0
	for _, entry := range s.pages {
		if !entry.stale {
			entry.stale = true
			n++
		}
	}
	metrics.QueueInvalidationsTotal.Inc()
	s.logger.Debug("queue invalidated", slog.Int("pages", n))
	return n
}

// Page 读取缓存页，不发起请求。
//
// 返回值:
//
//	model.Page[model.AdSummary]: 缓存的数据
//	bool: 是否已过期
//	bool: 是否存在
func (s *Store) Page(q model.ListQuery) (model.Page[model.AdSummary], bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.pages[q.Key()]
	if !ok {
		return model.Page[model.AdSummary]{}, false, false
	}
	return copyPage(entry.page), entry.stale, true
}

// Detail 读取缓存详情，不发起请求。
func (s *Store) Detail(id int64) (model.AdDetails, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	details, ok := s.details[id]
	return details, ok
}

func copyPage(p model.Page[model.AdSummary]) model.Page[model.AdSummary] {
	items := make([]model.AdSummary, len(p.Items))
	copy(items, p.Items)
	p.Items = items
	return p
}

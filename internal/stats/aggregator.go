package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"admoderation/internal/failure"
	"admoderation/internal/model"
	"admoderation/internal/pkg/metrics"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source 提供四类统计查询。
type Source interface {
	Summary(ctx context.Context, q model.StatsQuery) (model.StatsSummary, error)
	Activity(ctx context.Context, q model.StatsQuery) ([]model.ActivityPoint, error)
	Decisions(ctx context.Context, q model.StatsQuery) (model.DecisionTotals, error)
	Categories(ctx context.Context, q model.StatsQuery) (model.CategoryTotals, error)
}

// Aggregator 统计视图的数据源。
//
// 一次 Load 并发发出四个查询，全部成功才算成功。结果按查询缓存，直到 Invalidate。
// 相同查询的并发 Load 共享同一次请求；Invalidate 之后的 Load 不会加入失效前的请求。
type Aggregator struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	cache      map[string]model.StatsBundle
	generation uint64
}

// NewAggregator 创建统计聚合器。
func NewAggregator(source Source, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{
		source: source,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]model.StatsBundle),
	}
}

// Load 加载统计数据。
//
// 参数:
//
//	ctx: 上下文，只影响当前调用者的等待，不会取消共享的请求
//	q: 统计查询
//
// 返回值:
//
//	model.StatsBundle: 完整的统计结果
//	error: 校验失败返回 KindValidation，任一查询失败返回 KindFetch
func (a *Aggregator) Load(ctx context.Context, q model.StatsQuery) (model.StatsBundle, error) {
	if err := q.Validate(); err != nil {
		return model.StatsBundle{}, failure.Validation("load stats", err)
	}
	key := q.Key()

	a.mu.Lock()
	if bundle, ok := a.cache[key]; ok {
		a.mu.Unlock()
		metrics.StatsLoadsTotal.WithLabelValues("hit").Inc()
		return bundle, nil
	}
	gen := a.generation
	a.mu.Unlock()

	flightKey := key + "#" + strconv.FormatUint(gen, 10)
	ch := a.group.DoChan(flightKey, func() (any, error) {
		bundle, err := a.fetch(context.WithoutCancel(ctx), q)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		if a.generation == gen {
			a.cache[key] = bundle
		}
		a.mu.Unlock()
		return bundle, nil
	})

	select {
	case <-ctx.Done():
		return model.StatsBundle{}, failure.Fetch("load stats", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			metrics.StatsLoadsTotal.WithLabelValues("error").Inc()
			a.logger.Warn("load stats failed",
				slog.String("period", string(q.Period)),
				slog.String("error", res.Err.Error()))
			return model.StatsBundle{}, failure.Fetch("load stats", res.Err)
		}
		metrics.StatsLoadsTotal.WithLabelValues("miss").Inc()
		return res.Val.(model.StatsBundle), nil
	}
}

// Invalidate 丢弃所有缓存的统计结果。
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.cache)
	a.generation++
}

// Cached 返回缓存的统计结果，不发起请求。
func (a *Aggregator) Cached(q model.StatsQuery) (model.StatsBundle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.cache[q.Key()]
	return b, ok
}

func (a *Aggregator) fetch(ctx context.Context, q model.StatsQuery) (model.StatsBundle, error) {
	bundle := model.StatsBundle{Query: q}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		summary, err := a.source.Summary(gctx, q)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		if err := summary.Validate(); err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		bundle.Summary = summary
		return nil
	})
	g.Go(func() error {
		activity, err := a.source.Activity(gctx, q)
		if err != nil {
			return fmt.Errorf("activity: %w", err)
		}
		bundle.Activity = activity
		return nil
	})
	g.Go(func() error {
		decisions, err := a.source.Decisions(gctx, q)
		if err != nil {
			return fmt.Errorf("decisions: %w", err)
		}
		bundle.Decisions = decisions
		return nil
	})
	g.Go(func() error {
		categories, err := a.source.Categories(gctx, q)
		if err != nil {
			return fmt.Errorf("categories: %w", err)
		}
		bundle.Categories = categories
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.StatsBundle{}, err
	}
	if bundle.Activity == nil {
		bundle.Activity = []model.ActivityPoint{}
	}
	if bundle.Categories == nil {
		bundle.Categories = model.CategoryTotals{}
	}
	bundle.LoadedAt = a.now()
	return bundle, nil
}

package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"admoderation/internal/failure"
	"admoderation/internal/model"
	"admoderation/internal/pkg/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNoTargets 批量决定没有任何目标 id。
var ErrNoTargets = errors.New("no ads selected")

// sideEffectTimeout 写日志与发告警的超时。
const sideEffectTimeout = 3 * time.Second

// Submitter 向后端提交决定。
type Submitter interface {
	SubmitDecision(ctx context.Context, id int64, d model.Decision) (model.AdDetails, error)
}

// AdCache 决定成功后需要更新的广告缓存。
type AdCache interface {
	ApplyDecisionResult(details model.AdDetails)
	InvalidateQueue() int
}

// StatsInvalidator 决定成功后需要失效的统计缓存。
type StatsInvalidator interface {
	Invalidate()
}

// Journal 记录已确认的决定。
type Journal interface {
	Publish(ctx context.Context, ev model.DecisionEvent) error
}

// Notifier 批量决定部分失败时发送告警。
type Notifier interface {
	NotifyBulkPartial(ctx context.Context, report model.BulkReport) error
}

// Executor 执行单条与批量审核决定。
//
// 不做乐观更新：缓存只在后端确认后修改。失败不重试。
type Executor struct {
	submitter Submitter
	cache     AdCache
	stats     StatsInvalidator
	journal   Journal
	notifier  Notifier
	logger    *slog.Logger
	bulkLimit int
}

// Option 执行器配置选项。
type Option func(*Executor)

// WithJournal 设置决定日志。
func WithJournal(j Journal) Option {
	return func(e *Executor) {
		e.journal = j
	}
}

// WithNotifier 设置批量部分失败告警。
func WithNotifier(n Notifier) Option {
	return func(e *Executor) {
		e.notifier = n
	}
}

// WithBulkLimit 设置批量决定的并发上限，0 表示不限。
func WithBulkLimit(n int) Option {
	return func(e *Executor) {
		e.bulkLimit = n
	}
}

// NewExecutor 创建决定执行器。
//
// 参数:
//   - submitter: 后端客户端
//   - cache: 会话的广告缓存
//   - stats: 会话的统计聚合器
//   - logger: 日志记录器
//   - opts: 可选配置
func NewExecutor(submitter Submitter, cache AdCache, stats StatsInvalidator, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Executor{
		submitter: submitter,
		cache:     cache,
		stats:     stats,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide 对单条广告提交决定。
//
// 校验失败时不发出请求；提交失败时缓存保持不变。成功后更新缓存中的详情与摘要，
// 并使队列与统计失效。
//
// 参数:
//   - ctx: 上下文
//   - id: 广告 id
//   - d: 决定
//
// 返回值:
//   - model.AdDetails: 后端确认后的广告
//   - error: KindValidation 或 KindMutation
func (e *Executor) Decide(ctx context.Context, id int64, d model.Decision) (model.AdDetails, error) {
	op := fmt.Sprintf("decide ad %d", id)
	if err := validate(d); err != nil {
		metrics.DecisionsTotal.WithLabelValues(actionLabel(d), "invalid").Inc()
		return model.AdDetails{}, failure.Validation(op, err)
	}

	details, err := e.submitter.SubmitDecision(ctx, id, d)
	if err != nil {
		metrics.DecisionsTotal.WithLabelValues(string(d.Kind()), "failed").Inc()
		e.logger.Warn("decision failed",
			slog.Int64("ad_id", id),
			slog.String("action", string(d.Kind())),
			slog.String("error", err.Error()))
		return model.AdDetails{}, failure.Mutation(op, err)
	}

	metrics.DecisionsTotal.WithLabelValues(string(d.Kind()), "ok").Inc()
	e.cache.ApplyDecisionResult(details)
	e.invalidate()
	e.record(ctx, "", details, d)

	e.logger.Info("decision applied",
		slog.Int64("ad_id", id),
		slog.String("action", string(d.Kind())),
		slog.String("status", string(details.Status)))
	return details, nil
}

type outcome struct {
	details model.AdDetails
	err     error
}

// DecideBulk 对多条广告提交同一个决定。
//
// 每个 id 一个请求，全部并发发出后等待所有请求结束。某个请求失败不会取消其他请求。
// 全部成功时返回 ids；否则返回成功的 id 和 *failure.BulkError。
// 每个成功的结果都会写入缓存，只要有一个成功就使队列与统计失效。
//
// 参数:
//   - ctx: 上下文
//   - ids: 广告 id，重复的 id 只提交一次
//   - d: 决定
//
// 返回值:
//   - []int64: 成功的 id，按提交顺序
//   - error: KindValidation，或 *failure.BulkError
func (e *Executor) DecideBulk(ctx context.Context, ids []int64, d model.Decision) ([]int64, error) {
	if err := validate(d); err != nil {
		return nil, failure.Validation("decide bulk", err)
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, failure.Validation("decide bulk", ErrNoTargets)
	}

	batchID := uuid.NewString()
	results := make([]outcome, len(ids))

	var g errgroup.Group
	if e.bulkLimit > 0 {
		g.SetLimit(e.bulkLimit)
	}
	for i, id := range ids {
		g.Go(func() error {
			details, err := e.submitter.SubmitDecision(ctx, id, d)
			if err != nil {
				results[i] = outcome{err: failure.Mutation(fmt.Sprintf("decide ad %d", id), err)}
				return nil
			}
			e.cache.ApplyDecisionResult(details)
			results[i] = outcome{details: details}
			return nil
		})
	}
	_ = g.Wait()

	succeeded := make([]int64, 0, len(ids))
	failed := make(map[int64]error)
	for i, id := range ids {
		if results[i].err != nil {
			failed[id] = results[i].err
			continue
		}
		succeeded = append(succeeded, id)
		e.record(ctx, batchID, results[i].details, d)
	}
	if len(succeeded) > 0 {
		e.invalidate()
	}

	logAttrs := []any{
		slog.String("batch_id", batchID),
		slog.String("action", string(d.Kind())),
		slog.Int("succeeded", len(succeeded)),
		slog.Int("failed", len(failed)),
	}
	if len(failed) == 0 {
		metrics.BulkDecisionsTotal.WithLabelValues("success").Inc()
		e.logger.Info("bulk decision applied", logAttrs...)
		return ids, nil
	}

	bulkErr := &failure.BulkError{Succeeded: succeeded, Failed: failed}
	if bulkErr.Partial() {
		metrics.BulkDecisionsTotal.WithLabelValues("partial").Inc()
		e.notify(ctx, batchID, d, bulkErr)
	} else {
		metrics.BulkDecisionsTotal.WithLabelValues("failed").Inc()
	}
	e.logger.Warn("bulk decision incomplete", append(logAttrs, slog.Any("failed_ids", bulkErr.FailedIDs()))...)
	return succeeded, bulkErr
}

func (e *Executor) invalidate() {
	e.cache.InvalidateQueue()
	if e.stats != nil {
		e.stats.Invalidate()
	}
}

// record 写入决定日志，失败只记录日志。
func (e *Executor) record(ctx context.Context, batchID string, details model.AdDetails, d model.Decision) {
	if e.journal == nil {
		return
	}
	req := model.RequestOf(d)
	ev := model.DecisionEvent{
		EventID:   uuid.NewString(),
		BatchID:   batchID,
		AdID:      details.ID,
		Action:    req.Action,
		Reason:    req.Reason,
		Comment:   req.Comment,
		Status:    details.Status,
		DecidedAt: time.Now().UTC(),
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := e.journal.Publish(jctx, ev); err != nil {
		e.logger.Error("journal publish failed",
			slog.Int64("ad_id", details.ID),
			slog.String("error", err.Error()))
	}
}

func (e *Executor) notify(ctx context.Context, batchID string, d model.Decision, bulkErr *failure.BulkError) {
	if e.notifier == nil {
		return
	}
	failed := make(map[int64]string, len(bulkErr.Failed))
	for id, err := range bulkErr.Failed {
		failed[id] = err.Error()
	}
	report := model.BulkReport{
		BatchID:   batchID,
		Action:    d.Kind(),
		Succeeded: bulkErr.Succeeded,
		Failed:    failed,
		At:        time.Now().UTC(),
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := e.notifier.NotifyBulkPartial(nctx, report); err != nil {
		e.logger.Error("bulk partial alert failed",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()))
	}
}

func validate(d model.Decision) error {
	if d == nil {
		return errors.New("decision is required")
	}
	return d.Validate()
}

func actionLabel(d model.Decision) string {
	if d == nil {
		return "unknown"
	}
	return string(d.Kind())
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "admoderation"

var (
	// BackendRequestsTotal 后端请求次数，按接口与结果区分。
	BackendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_requests_total",
		Help:      "Requests sent to the moderation backend by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// BackendRequestDuration 后端请求耗时。
	BackendRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_request_duration_seconds",
		Help:      "Latency of moderation backend requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// DecisionsTotal 单条决定结果。
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Moderation decisions by action and outcome.",
	}, []string{"action", "outcome"})

	// BulkDecisionsTotal 批量决定结果：success / partial / failed。
	BulkDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bulk_decisions_total",
		Help:      "Bulk moderation operations by outcome.",
	}, []string{"outcome"})

	// BulkConcurrencyLimit 批量决定的并发上限，0 表示不限。
	BulkConcurrencyLimit = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bulk_concurrency_limit",
		Help:      "Configured concurrency cap for bulk decisions (0 = unbounded).",
	})

	// QueueInvalidationsTotal 队列缓存失效次数。
	QueueInvalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_invalidations_total",
		Help:      "Times the cached queue pages were marked stale.",
	})

	// StaleResponsesTotal 被丢弃的过期列表响应。
	StaleResponsesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_responses_total",
		Help:      "Queue responses discarded because the filters changed meanwhile.",
	})

	// StatsLoadsTotal 统计加载结果：hit / miss / error。
	StatsLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stats_loads_total",
		Help:      "Statistics bundle loads by outcome.",
	}, []string{"outcome"})

	// ActiveSessions 当前会话数。
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Console sessions currently held in memory.",
	})

	// RateLimitWaitDuration 等待令牌的耗时。
	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for an outbound request token.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// RateLimitTimeoutTotal 等待令牌超时次数。
	RateLimitTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_timeout_total",
		Help:      "Outbound requests abandoned while waiting for a token.",
	})

	// IdempotentReplaysTotal 被幂等键拦截的重复批量提交。
	IdempotentReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotent_replays_total",
		Help:      "Bulk submissions rejected because the idempotency key was already used.",
	})

	// JournalPublishedTotal 写入决定日志的事件数。
	JournalPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_published_total",
		Help:      "Decision events appended to the journal stream.",
	})

	// JournalPersistedTotal 已落库的事件数。
	JournalPersistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_persisted_total",
		Help:      "Decision events persisted to the audit store.",
	})

	// JournalAutoClaimTotal 通过 XAUTOCLAIM 接管的消息数。
	JournalAutoClaimTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_autoclaim_total",
		Help:      "Pending journal messages reclaimed from idle consumers.",
	})

	// JournalDLQTotal 进入死信队列的消息数。
	JournalDLQTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_dlq_total",
		Help:      "Journal messages moved to the dead letter stream.",
	})
)

var once sync.Once

// InitMetrics 注册全部指标，可以重复调用。
//
// 参数:
//
//	bulkConcurrency: 批量决定并发上限
func InitMetrics(bulkConcurrency int) {
	once.Do(func() {
		prometheus.MustRegister(
			BackendRequestsTotal,
			BackendRequestDuration,
			DecisionsTotal,
			BulkDecisionsTotal,
			BulkConcurrencyLimit,
			QueueInvalidationsTotal,
			StaleResponsesTotal,
			StatsLoadsTotal,
			ActiveSessions,
			RateLimitWaitDuration,
			RateLimitTimeoutTotal,
			IdempotentReplaysTotal,
			JournalPublishedTotal,
			JournalPersistedTotal,
			JournalAutoClaimTotal,
			JournalDLQTotal,
		)
	})
	BulkConcurrencyLimit.Set(float64(bulkConcurrency))
}

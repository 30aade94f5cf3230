package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"admoderation/internal/model"
	"admoderation/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// FailureAction 处理失败消息的方式。
type FailureAction string

const (
	FailureActionNone  FailureAction = "none"
	FailureActionRetry FailureAction = "retry"
	FailureActionDLQ   FailureAction = "dlq"
)

// Message 带 Stream 消息 id 的决定事件。
type Message struct {
	ID    string
	Event model.DecisionEvent
}

// Consumer 以消费者组方式读取决定日志。
//
// 先用 XAUTOCLAIM 接管空闲过久的 pending 消息，再读取新消息。
type Consumer struct {
	stream      *Stream
	logger      *slog.Logger
	group       string
	consumerID  string
	block       time.Duration
	batch       int64
	pendingIdle time.Duration
	claimStart  string
	deadLetter  string
	maxRetry    int
}

// ConsumerOption 消费者配置选项。
type ConsumerOption func(*Consumer)

// WithBlock 设置 XREADGROUP 的阻塞时间。
func WithBlock(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.block = d
	}
}

// WithBatch 设置每次读取的消息数。
func WithBatch(n int64) ConsumerOption {
	return func(c *Consumer) {
		c.batch = n
	}
}

// WithPendingIdle 设置 pending 消息被接管前的最小空闲时间。
func WithPendingIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.pendingIdle = d
	}
}

// WithMaxRetry 设置进入死信前的最大重试次数。
func WithMaxRetry(n int) ConsumerOption {
	return func(c *Consumer) {
		c.maxRetry = n
	}
}

// NewConsumer 创建消费者并确保消费者组存在。
//
// 参数:
//   - ctx: 上下文
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称
//   - group: 消费者组名称
//   - consumerID: 消费者标识，为空时自动生成
//   - opts: 可选配置
func NewConsumer(ctx context.Context, rdb *redis.Client, logger *slog.Logger, streamName, group, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if group == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("journal-%d", time.Now().UnixNano())
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	stream := NewStream(rdb, logger, streamName)
	c := &Consumer{
		stream:      stream,
		logger:      logger,
		group:       group,
		consumerID:  consumerID,
		block:       time.Second,
		batch:       20,
		pendingIdle: time.Minute,
		claimStart:  "0-0",
		deadLetter:  stream.Name() + ":dlq",
		maxRetry:    3,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := stream.EnsureGroup(ctx, group); err != nil {
		return nil, err
	}
	c.logger.Info("journal consumer ready",
		slog.String("stream", stream.Name()),
		slog.String("group", group),
		slog.String("consumer_id", consumerID))
	return c, nil
}

// DeadLetterStream 返回死信 Stream 名称。
func (c *Consumer) DeadLetterStream() string {
	return c.deadLetter
}

// Read 读取一批消息，优先返回被接管的 pending 消息。
func (c *Consumer) Read(ctx context.Context) ([]Message, error) {
	claimed, err := c.claimIdle(ctx)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		return claimed, nil
	}
	return c.readNew(ctx)
}

func (c *Consumer) claimIdle(ctx context.Context) ([]Message, error) {
	msgs, next, err := c.stream.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream.Name(),
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.claimStart,
		Count:    c.batch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if next != "" {
		c.claimStart = next
	}
	if len(msgs) > 0 {
		metrics.JournalAutoClaimTotal.Add(float64(len(msgs)))
	}
	return c.parse(ctx, msgs), nil
}

func (c *Consumer) readNew(ctx context.Context) ([]Message, error) {
	streams, err := c.stream.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream.Name(), ">"},
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return c.parse(ctx, msgs), nil
}

// parse 解析消息，无法解析的消息直接进入死信并确认。
func (c *Consumer) parse(ctx context.Context, msgs []redis.XMessage) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok || data == "" {
			c.poison(ctx, msg.ID, fmt.Sprintf("%v", msg.Values["data"]), "invalid message format")
			continue
		}
		ev, err := decodeEvent(data)
		if err != nil {
			c.poison(ctx, msg.ID, data, err.Error())
			continue
		}
		out = append(out, Message{ID: msg.ID, Event: ev})
	}
	return out
}

// Ack 确认消息已处理。
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	acked, err := c.stream.rdb.XAck(ctx, c.stream.Name(), c.group, ids...).Result()
	if err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if acked < int64(len(ids)) {
		c.logger.Warn("some messages were already acked",
			slog.Int64("acked", acked),
			slog.Int("requested", len(ids)))
	}
	return nil
}

// HandleFailure 处理持久化失败的消息：重试次数未满时重新入队，否则进入死信。
// 两种情况下原消息都会被确认。
func (c *Consumer) HandleFailure(ctx context.Context, msg Message, cause error) (FailureAction, error) {
	msg.Event.Retry++
	if msg.Event.Retry > c.maxRetry {
		if err := c.publishDeadLetter(ctx, msg.ID, msg.Event, cause); err != nil {
			return FailureActionDLQ, err
		}
		metrics.JournalDLQTotal.Inc()
		return FailureActionDLQ, c.Ack(ctx, msg.ID)
	}

	if _, err := c.stream.Append(ctx, msg.Event); err != nil {
		return FailureActionRetry, err
	}
	return FailureActionRetry, c.Ack(ctx, msg.ID)
}

// Pending 返回消费者组中未确认的消息数。
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.stream.rdb.XPending(ctx, c.stream.Name(), c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	return info.Count, nil
}

func (c *Consumer) poison(ctx context.Context, msgID, payload, reason string) {
	c.logger.Warn("poison journal message", slog.String("msg_id", msgID), slog.String("reason", reason))
	if err := c.publishDeadLetter(ctx, msgID, payload, errors.New(reason)); err != nil {
		c.logger.Error("publish dead letter failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
	metrics.JournalDLQTotal.Inc()
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) publishDeadLetter(ctx context.Context, msgID string, payload any, cause error) error {
	raw := payload
	if ev, ok := payload.(model.DecisionEvent); ok {
		if data, err := json.Marshal(ev); err == nil {
			raw = string(data)
		}
	}
	_, err := c.stream.appendRaw(ctx, c.deadLetter, map[string]any{
		"original_id": msgID,
		"payload":     raw,
		"reason":      cause.Error(),
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	return err
}

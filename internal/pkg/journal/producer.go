package journal

import (
	"context"
	"fmt"
	"log/slog"

	"admoderation/internal/model"
	"admoderation/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Producer 把已确认的决定写入日志。
type Producer struct {
	stream *Stream
	logger *slog.Logger
}

// NewProducer 创建日志生产者。
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName string) *Producer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Producer{
		stream: NewStream(rdb, logger, streamName),
		logger: logger,
	}
}

// Publish 写入一条决定事件。
//
// 参数:
//   - ctx: 上下文
//   - ev: 决定事件
//
// 返回值:
//   - error: 写入失败时返回错误
func (p *Producer) Publish(ctx context.Context, ev model.DecisionEvent) error {
	if ev.AdID == 0 {
		return fmt.Errorf("invalid ad id: %d", ev.AdID)
	}
	msgID, err := p.stream.Append(ctx, ev)
	if err != nil {
		return err
	}
	metrics.JournalPublishedTotal.Inc()
	p.logger.Debug("decision journaled",
		slog.Int64("ad_id", ev.AdID),
		slog.String("action", string(ev.Action)),
		slog.String("msg_id", msgID))
	return nil
}

// Backlog 返回日志中的消息数。
func (p *Producer) Backlog(ctx context.Context) (int64, error) {
	return p.stream.Len(ctx)
}

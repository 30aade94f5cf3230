package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"admoderation/internal/model"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 决定日志的 Stream 名称。
const DefaultStream = "admoderation:decisions"

// maxLen Stream 保留的大致条数。
const maxLen = 100000

// Stream 封装决定日志所在的 Redis Stream。
type Stream struct {
	rdb    *redis.Client
	logger *slog.Logger
	name   string
}

// NewStream 创建 Stream 句柄。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - name: Stream 名称，为空时使用 DefaultStream
func NewStream(rdb *redis.Client, logger *slog.Logger, name string) *Stream {
	if name == "" {
		name = DefaultStream
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stream{rdb: rdb, logger: logger, name: name}
}

// Name 返回 Stream 名称。
func (s *Stream) Name() string {
	return s.name
}

// Append 追加一条决定事件。
func (s *Stream) Append(ctx context.Context, ev model.DecisionEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return s.appendRaw(ctx, s.name, map[string]any{"data": string(data)})
}

func (s *Stream) appendRaw(ctx context.Context, stream string, values map[string]any) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	s.logger.Debug("journal entry appended",
		slog.String("stream", stream),
		slog.String("msg_id", id))
	return id, nil
}

// EnsureGroup 创建消费者组，已存在时忽略。
func (s *Stream) EnsureGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Len 返回 Stream 中的消息数。
func (s *Stream) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen: %w", err)
	}
	return n, nil
}

func decodeEvent(data string) (model.DecisionEvent, error) {
	var ev model.DecisionEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return model.DecisionEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.AdID == 0 || ev.EventID == "" {
		return model.DecisionEvent{}, fmt.Errorf("event missing ad_id or event_id")
	}
	return ev, nil
}

package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"admoderation/internal/model"
	"admoderation/internal/pkg/metrics"
)

// Sink 决定事件的持久化目标。
type Sink interface {
	Persist(ctx context.Context, ev model.DecisionEvent) error
}

// Worker 循环读取日志并写入 Sink。
type Worker struct {
	consumer *Consumer
	sink     Sink
	logger   *slog.Logger
	backoff  time.Duration
}

// NewWorker 创建日志落库 worker。
func NewWorker(consumer *Consumer, sink Sink, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		consumer: consumer,
		sink:     sink,
		logger:   logger,
		backoff:  time.Second,
	}
}

// Run 持续处理消息直到 ctx 结束。
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.ProcessBatch(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			w.logger.Error("journal batch failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff):
			}
		}
	}
}

// ProcessBatch 读取并处理一批消息，返回成功落库的条数。
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := w.consumer.Read(ctx)
	if err != nil {
		return 0, err
	}

	persisted := 0
	acks := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if err := w.sink.Persist(ctx, msg.Event); err != nil {
			action, herr := w.consumer.HandleFailure(ctx, msg, err)
			w.logger.Warn("persist decision failed",
				slog.String("msg_id", msg.ID),
				slog.Int64("ad_id", msg.Event.AdID),
				slog.String("action", string(action)),
				slog.String("error", err.Error()))
			if herr != nil {
				w.logger.Error("handle journal failure", slog.String("msg_id", msg.ID), slog.String("error", herr.Error()))
			}
			continue
		}
		persisted++
		acks = append(acks, msg.ID)
	}

	if err := w.consumer.Ack(ctx, acks...); err != nil {
		return persisted, err
	}
	metrics.JournalPersistedTotal.Add(float64(persisted))
	return persisted, nil
}

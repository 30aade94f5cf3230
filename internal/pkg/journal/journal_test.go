package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"admoderation/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type recordingSink struct {
	events []model.DecisionEvent
	err    error
}

func (s *recordingSink) Persist(ctx context.Context, ev model.DecisionEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func event(adID int64) model.DecisionEvent {
	return model.DecisionEvent{
		EventID:   "ev-" + time.Now().Format("150405.000000"),
		AdID:      adID,
		Action:    model.KindReject,
		Reason:    model.ReasonFraud,
		Comment:   "scam",
		Status:    model.StatusRejected,
		DecidedAt: time.Now().UTC(),
	}
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	rdb := newMiniRedis(t)
	ctx := context.Background()

	producer := NewProducer(rdb, nil, "test:decisions")
	consumer, err := NewConsumer(ctx, rdb, nil, "test:decisions", "audit", "c1", WithBlock(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	if err := producer.Publish(ctx, event(42)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n, _ := producer.Backlog(ctx); n != 1 {
		t.Fatalf("expected backlog 1, got %d", n)
	}

	sink := &recordingSink{}
	w := NewWorker(consumer, sink, nil)
	n, err := w.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 || len(sink.events) != 1 || sink.events[0].AdID != 42 || sink.events[0].Reason != model.ReasonFraud {
		t.Fatalf("unexpected persisted events %+v", sink.events)
	}
	if pending, _ := consumer.Pending(ctx); pending != 0 {
		t.Fatalf("expected nothing pending, got %d", pending)
	}
}

func TestProducer_RejectsZeroAdID(t *testing.T) {
	rdb := newMiniRedis(t)
	if err := NewProducer(rdb, nil, "").Publish(context.Background(), model.DecisionEvent{}); err == nil {
		t.Fatalf("expected error for empty event")
	}
}

func TestWorker_RetryThenDeadLetter(t *testing.T) {
	rdb := newMiniRedis(t)
	ctx := context.Background()

	producer := NewProducer(rdb, nil, "test:retry")
	consumer, err := NewConsumer(ctx, rdb, nil, "test:retry", "audit", "c1",
		WithBlock(10*time.Millisecond), WithMaxRetry(1))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	if err := producer.Publish(ctx, event(7)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	w := NewWorker(consumer, &recordingSink{err: errors.New("db down")}, nil)
	// 第一次失败：重新入队
	if _, err := w.ProcessBatch(ctx); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	// 第二次失败：超过重试次数，进入死信
	if _, err := w.ProcessBatch(ctx); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	dlq, err := rdb.XRange(ctx, consumer.DeadLetterStream(), "-", "+").Result()
	if err != nil {
		t.Fatalf("read dlq: %v", err)
	}
	if len(dlq) != 1 || dlq[0].Values["reason"] != "db down" {
		t.Fatalf("expected one dead letter, got %+v", dlq)
	}
	if pending, _ := consumer.Pending(ctx); pending != 0 {
		t.Fatalf("expected all messages acked, got %d pending", pending)
	}
}

func TestConsumer_PoisonMessageGoesToDLQ(t *testing.T) {
	rdb := newMiniRedis(t)
	ctx := context.Background()

	consumer, err := NewConsumer(ctx, rdb, nil, "test:poison", "audit", "c1", WithBlock(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	if err := rdb.XAdd(ctx, &redis.XAddArgs{Stream: "test:poison", Values: map[string]any{"data": "{not json"}}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}

	msgs, err := consumer.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("poison message must not be delivered, got %+v", msgs)
	}
	if n, _ := rdb.XLen(ctx, consumer.DeadLetterStream()).Result(); n != 1 {
		t.Fatalf("expected dead letter, got %d", n)
	}
}

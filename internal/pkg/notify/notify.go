package notify

import (
	"context"
	"log/slog"

	"admoderation/internal/model"
)

// LogNotifier 只把告警写入日志，在未配置邮件时使用。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier 创建日志告警器。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyBulkPartial 记录批量决定部分失败。
func (n *LogNotifier) NotifyBulkPartial(ctx context.Context, report model.BulkReport) error {
	n.logger.Warn("bulk decision partially applied",
		slog.String("batch_id", report.BatchID),
		slog.String("action", string(report.Action)),
		slog.Any("succeeded", report.Succeeded),
		slog.Int("failed", len(report.Failed)))
	return nil
}

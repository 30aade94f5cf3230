package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"

	"admoderation/internal/config"
	"admoderation/internal/model"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 通过 SMTP 发送批量决定告警。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建邮件告警器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// Configured 判断 SMTP 与收件人是否已配置。
func (n *EmailNotifier) Configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != "" && strings.TrimSpace(n.cfg.AlertTo) != ""
}

// NotifyBulkPartial 发送批量决定部分失败的邮件。
func (n *EmailNotifier) NotifyBulkPartial(ctx context.Context, report model.BulkReport) error {
	if !n.Configured() {
		n.logger.Warn("email alert config missing, skip notification", slog.String("batch_id", report.BatchID))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", recipients(n.cfg.AlertTo)...)
	m.SetHeader("Subject", fmt.Sprintf("[Moderation] bulk %s partially failed (%d/%d)",
		report.Action, len(report.Failed), len(report.Failed)+len(report.Succeeded)))
	m.SetBody("text/html", buildBulkBody(report))

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	n.logger.Info("bulk partial alert sent",
		slog.String("batch_id", report.BatchID),
		slog.Int("failed", len(report.Failed)))
	return nil
}

func recipients(list string) []string {
	var out []string
	for _, addr := range strings.Split(list, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func buildBulkBody(report model.BulkReport) string {
	ids := make([]int64, 0, len(report.Failed))
	for id := range report.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&rows, `<tr><td style="padding:4px 8px;">%d</td><td style="padding:4px 8px;">%s</td></tr>`,
			id, html.EscapeString(report.Failed[id]))
	}

	succeeded := make([]string, 0, len(report.Succeeded))
	for _, id := range report.Succeeded {
		succeeded = append(succeeded, fmt.Sprintf("%d", id))
	}

	const template = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <div style="max-width: 600px; margin: 0 auto; padding: 16px;">
    <h2>Bulk decision partially applied</h2>
    <p>Batch <code>%s</code>, action <b>%s</b>, at %s.</p>
    <p>Applied: %s</p>
    <table style="border-collapse: collapse; border: 1px solid #e5e7eb;">
      <tr><th style="padding:4px 8px;">Ad</th><th style="padding:4px 8px;">Error</th></tr>
      %s
    </table>
  </div>
</body>
</html>`
	return fmt.Sprintf(template,
		html.EscapeString(report.BatchID),
		html.EscapeString(string(report.Action)),
		report.At.Format("2006-01-02 15:04:05 MST"),
		strings.Join(succeeded, ", "),
		rows.String())
}

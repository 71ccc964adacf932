package alerts

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/patientwatch/patientwatch/internal/config"
)

// deliver sends webhook notifications for a to all configured targets.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(webhooks []config.WebhookConfig, a *Alert) {
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.post(url, map[string]string{
				"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message),
			})
		case "teams":
			err = e.post(url, map[string]any{
				"@type":      "MessageCard",
				"@context":   "http://schema.org/extensions",
				"themeColor": severityColor(a.Severity),
				"summary":    a.RuleName,
				"title":      fmt.Sprintf("Patient alert: %s", a.RuleName),
				"text":       a.Message,
			})
		case "http":
			err = e.post(url, map[string]any{"alert": a})
		default:
			e.log.Warn("alerts: unknown webhook type, skipping", zap.String("type", wh.Type))
			continue
		}

		if err != nil {
			e.log.Error("alerts: webhook delivery failed",
				zap.String("type", wh.Type),
				zap.String("rule", a.RuleName),
				zap.Error(err),
			)
		} else {
			e.log.Debug("alerts: webhook delivered",
				zap.String("type", wh.Type),
				zap.String("rule", a.RuleName),
				zap.String("state", a.State),
			)
		}
	}
}

func (e *Engine) post(url string, body any) error {
	resp, err := e.client.R().SetBody(body).Post(url)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode())
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// Package notify delivers one run-summary message per terminal outcome over
// Telegram. Every run notifies, including no-ops, so silence always means
// something is wrong.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newsreel/newsreel/internal/logger"
	"github.com/newsreel/newsreel/internal/metrics"
	"github.com/newsreel/newsreel/internal/pipeline"
)

const maxRetries = 3

type Notifier struct {
	token  string
	chatID string
	client *http.Client
}

func NewNotifier(token, chatID string) *Notifier {
	return &Notifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether credentials are configured. A disabled notifier
// logs summaries instead of sending them.
func (n *Notifier) Enabled() bool {
	return n.token != "" && n.chatID != ""
}

// NotifySummary sends the run summary. It retries transient failures with
// exponential backoff.
func (n *Notifier) NotifySummary(s *pipeline.Summary) error {
	text := formatSummary(s)

	if !n.Enabled() {
		logger.Info("telegram disabled, summary not sent", "status", string(s.Status))
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := n.sendMessage(text); err != nil {
			lastErr = err
			logger.Warn("telegram send failed",
				"attempt", attempt, "max", maxRetries, "error", err)
			time.Sleep(time.Duration(1<<attempt) * time.Second)
			continue
		}
		metrics.Global.IncrementNotificationsSent()
		return nil
	}
	return fmt.Errorf("sending summary after %d attempts: %w", maxRetries, lastErr)
}

func (n *Notifier) sendMessage(text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.token)

	payload := map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := n.client.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error: status %d", resp.StatusCode)
	}
	return nil
}

func formatSummary(s *pipeline.Summary) string {
	var sb strings.Builder

	switch s.Status {
	case pipeline.StatusSuccess:
		sb.WriteString("✅ <b>Run complete</b>")
	case pipeline.StatusPartial:
		sb.WriteString("⚠️ <b>Run complete with drops</b>")
	case pipeline.StatusNoOp:
		sb.WriteString("💤 <b>Nothing to do this cycle</b>")
	default:
		sb.WriteString("❌ <b>Run failed</b>")
	}
	fmt.Fprintf(&sb, "\nType: %s\nJob: %s\n", s.ContentType, s.JobID)

	if s.Theme != "" {
		fmt.Fprintf(&sb, "Theme: %s\n", s.Theme)
	}
	if len(s.Stories) > 0 {
		fmt.Fprintf(&sb, "\nStories (%d):\n", len(s.Stories))
		for i, title := range s.Stories {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
		}
	}
	if len(s.Dropped) > 0 {
		fmt.Fprintf(&sb, "\nDropped (%d):\n", len(s.Dropped))
		for _, d := range s.Dropped {
			fmt.Fprintf(&sb, "- %s (%s)\n", d.Title, d.Reason)
		}
	}
	if s.VideoPath != "" {
		fmt.Fprintf(&sb, "\nVideo: %s\n", s.VideoPath)
	}
	if s.Error != "" && s.Status == pipeline.StatusFailed {
		fmt.Fprintf(&sb, "\nError: %s\n", s.Error)
	}
	fmt.Fprintf(&sb, "\nDuration: %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))

	return sb.String()
}

// Package slack posts urgent-feedback digests to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/feedforward/internal/archive"
	"github.com/linnemanlabs/feedforward/internal/feedback"
)

const (
	maxFeedbackLen = 280
	maxSections    = 10
	httpTimeout    = 10 * time.Second
)

// Notifier sends urgent-feedback digests to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Notify posts the urgent rows of b. Batches without urgent rows, and
// notifiers without a webhook, send nothing.
func (n *Notifier) Notify(ctx context.Context, b *archive.Batch) error {
	if n.webhookURL == "" {
		return nil
	}
	urgent := feedback.Urgent(b.Results)
	if len(urgent) == 0 {
		return nil
	}

	body, err := json.Marshal(buildMessage(b, urgent))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "urgent digest sent", "batch_id", b.ID, "urgent", len(urgent))
	return nil
}

func buildMessage(b *archive.Batch, urgent []feedback.ScoredResult) map[string]any {
	blocks := []map[string]any{
		headerBlock(b, len(urgent)),
		{"type": "divider"},
	}

	shown := urgent
	if len(shown) > maxSections {
		shown = shown[:maxSections]
	}
	for _, r := range shown {
		blocks = append(blocks, resultBlock(r))
	}
	if rest := len(urgent) - len(shown); rest > 0 {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("_…and %d more_", rest),
			},
		})
	}

	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(b))
	return map[string]any{"blocks": blocks}
}

func headerBlock(b *archive.Batch, urgent int) map[string]any {
	source := "manual submission"
	if b.Kind == archive.KindCSV {
		source = "CSV upload"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("\U0001f6a8 %d urgent of %d from %s", urgent, b.Total, source),
		},
	}
}

func resultBlock(r feedback.ScoredResult) map[string]any {
	text := fmt.Sprintf("%s *%s urgency / %s impact* (score %d)\n>%s",
		scoreEmoji(r.PriorityScore), r.Urgency, r.Impact, r.PriorityScore, truncate(r.Feedback, maxFeedbackLen))
	if r.Summary != "" {
		text += "\n" + truncate(r.Summary, maxFeedbackLen)
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(b *archive.Batch) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("feedforward • batch %s • %s", b.ID, b.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func scoreEmoji(score int) string {
	if score >= 9 {
		return "\U0001f534" // red circle
	}
	return "\U0001f7e0" // orange circle
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

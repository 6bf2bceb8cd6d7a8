// Package slack sends ticket triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/casewise/internal/ticket"
)

const (
	maxTextLen  = 3000
	maxTitleLen = 150
	httpTimeout = 10 * time.Second
)

// Notifier sends analyzed tickets to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts the ticket and its analysis to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, t *ticket.Ticket) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(t))
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

	n.logger.Info(ctx, "slack notification sent", "ticket_id", t.ID)
	return nil
}

func buildMessage(t *ticket.Ticket) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(t),
			{"type": "divider"},
			fieldsBlock(t),
			{"type": "divider"},
			analysisBlock(t),
			{"type": "divider"},
			contextBlock(t),
		},
	}
}

func headerBlock(t *ticket.Ticket) map[string]any {
	title := "Ticket Analyzed"
	if t.Analysis == nil {
		title = "Ticket Not Analyzed"
	}
	text := fmt.Sprintf("%s %s: %s", confidenceEmoji(t), title, truncate(t.Title, maxTitleLen))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(t *ticket.Ticket) map[string]any {
	account := t.AccountID
	confidence := "n/a"
	var kbCount, logCount int
	if a := t.Analysis; a != nil {
		if a.AccountID != "" {
			account = a.AccountID
		}
		confidence = fmt.Sprintf("%.0f%%", a.Confidence*100)
		kbCount, logCount = len(a.KBArticles), len(a.LogEntries)
	}
	if account == "" {
		account = "unknown"
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Status:* %s", t.Status)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Account:* %s", account)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:* %s", confidence)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Submitted by:* %s", t.Email)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*KB articles:* %d", kbCount)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Log entries:* %d", logCount)},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func analysisBlock(t *ticket.Ticket) map[string]any {
	diagnosis, action := "", ""
	if t.Analysis != nil {
		diagnosis, action = t.Analysis.Diagnosis, t.Analysis.RecommendedAction
	}
	if diagnosis == "" {
		diagnosis = "_No diagnosis available._"
	}
	if action == "" {
		action = "_None._"
	}

	text := fmt.Sprintf("*Diagnosis*\n%s\n\n*Recommended action*\n%s", diagnosis, action)
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(text, maxTextLen),
		},
	}
}

func contextBlock(t *ticket.Ticket) map[string]any {
	ts := t.UpdatedAt
	if t.AnalyzedAt != nil {
		ts = *t.AnalyzedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("casewise • ticket %s • %s", t.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func confidenceEmoji(t *ticket.Ticket) string {
	if t.Analysis == nil {
		return "\u26aa" // white circle
	}
	switch c := t.Analysis.Confidence; {
	case c >= 0.8:
		return "\U0001f7e2" // green circle
	case c >= 0.5:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f534" // red circle
	}
}

// truncate shortens s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " ") + "..."
}

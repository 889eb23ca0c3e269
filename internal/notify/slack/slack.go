// Package slack sends dismissal notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/nudge/internal/nudge"
)

const (
	maxFieldLen = 200
	httpTimeout = 10 * time.Second
)

// Notifier sends dismissal events to a Slack webhook.
type Notifier struct {
	webhookURL string
	product    string
	allReasons bool
	client     *http.Client
	logger     log.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithProduct names the product in the message header.
func WithProduct(name string) Option {
	return func(n *Notifier) { n.product = name }
}

// WithAllReasons also posts maybe_later dismissals. By default only
// answers that close the prompt are posted.
func WithAllReasons() Option {
	return func(n *Notifier) { n.allReasons = true }
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	n := &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Send posts a dismissal event to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, ev *nudge.DismissalEvent) error {
	if n.webhookURL == "" || ev == nil {
		return nil
	}
	if !ev.Closed && !n.allReasons {
		return nil
	}

	msg := buildMessage(n.product, ev)

	body, err := json.Marshal(msg)
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

	n.logger.Info(ctx, "dismissal notification sent", "event_id", ev.ID, "reason", ev.Reason)
	return nil
}

func buildMessage(product string, ev *nudge.DismissalEvent) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(product, ev),
			{"type": "divider"},
			fieldsBlock(ev),
			contextBlock(ev),
		},
	}
}

func headerBlock(product string, ev *nudge.DismissalEvent) map[string]any {
	if product == "" {
		product = "Review prompt"
	}
	text := fmt.Sprintf("%s %s: %s", reasonEmoji(ev.Reason), truncate(product, maxFieldLen), reasonTitle(ev.Reason))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(ev *nudge.DismissalEvent) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*User:* %s", truncate(ev.UserID, maxFieldLen)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Trigger:* %s/%s", truncate(ev.Group, maxFieldLen), truncate(ev.Code, maxFieldLen)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %d", ev.Priority),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reason:* %s", ev.Reason),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(ev *nudge.DismissalEvent) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("nudge • event %s • %s", ev.ID, ev.OccurredAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func reasonEmoji(r nudge.Reason) string {
	switch r {
	case nudge.ReasonAlreadyDid:
		return "⭐" // star
	case nudge.ReasonAmNow:
		return "\U0001f4dd" // memo
	default:
		return "⏳" // hourglass
	}
}

func reasonTitle(r nudge.Reason) string {
	switch r {
	case nudge.ReasonAlreadyDid:
		return "user already left a review"
	case nudge.ReasonAmNow:
		return "user is leaving a review"
	case nudge.ReasonMaybeLater:
		return "user asked to be reminded later"
	default:
		return "prompt dismissed"
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// Package slack posts payslip run summaries to Slack via incoming webhooks.
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

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/payslipd/internal/payslip"
)

const (
	maxUnmatchedLines = 10
	maxFailureLines   = 10
	httpTimeout       = 10 * time.Second
)

// Notifier sends run summaries to a Slack webhook.
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

// Send posts a run summary to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, o *payslip.Outcome) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(o))
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
	n.logger.Info(ctx, "run summary posted to slack", "run_id", o.RunID)
	return nil
}

func buildMessage(o *payslip.Outcome) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(o),
			{"type": "divider"},
			fieldsBlock(o),
			{"type": "divider"},
			detailBlock(o),
			{"type": "divider"},
			contextBlock(o),
		},
	}
}

func headerBlock(o *payslip.Outcome) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s", statusEmoji(o), title(o), o.Unit),
		},
	}
}

func title(o *payslip.Outcome) string {
	r := o.Result
	switch {
	case r == nil:
		return "Payslips Processed"
	case r.Preview != nil:
		return "Payslip Dry Run"
	case r.Failed > 0 && r.Processed == 0 && r.Total > 0:
		return "Payslip Delivery Failed"
	default:
		return "Payslips Sent"
	}
}

func fieldsBlock(o *payslip.Outcome) map[string]any {
	var processed, failed, total int
	if o.Result != nil {
		processed, failed, total = o.Result.Processed, o.Result.Failed, o.Result.Total
	}
	field := func(format string, a ...any) map[string]any {
		return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf(format, a...)}
	}

	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			field("*Sent:* %d / %d", processed, total),
			field("*Failed:* %d", failed),
			field("*Pages:* %d", o.Stats.Pages),
			field("*Segments:* %d", o.Stats.Segments),
			field("*Unmatched:* %d", len(o.Unmatched)),
			field("*Duration:* %.1fs", o.Duration),
		},
	}
}

func detailBlock(o *payslip.Outcome) map[string]any {
	var b strings.Builder
	if len(o.Unmatched) > 0 {
		b.WriteString("*Unmatched segments*\n")
		for i, u := range o.Unmatched {
			if i == maxUnmatchedLines {
				fmt.Fprintf(&b, "_and %d more_\n", len(o.Unmatched)-i)
				break
			}
			fmt.Fprintf(&b, "• page %d (%s): %s\n", u.Page, u.Region, u.Reason)
		}
	}

	if o.Result != nil {
		shown := 0
		for _, it := range o.Result.Items {
			if it.OK {
				continue
			}
			if shown == 0 {
				b.WriteString("*Delivery failures*\n")
			}
			if shown == maxFailureLines {
				b.WriteString("_and more_\n")
				break
			}
			fmt.Fprintf(&b, "• %s <%s>: %s\n", it.Name, it.Email, it.Error)
			shown++
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		text = "_Every segment was matched and delivered._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(o *payslip.Outcome) map[string]any {
	channel := "dry run"
	if o.Result != nil && o.Result.Preview == nil {
		channel = "sent"
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("payslipd • run %s • %s • %s", o.RunID, channel, time.Now().UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func statusEmoji(o *payslip.Outcome) string {
	r := o.Result
	switch {
	case r == nil || r.Preview != nil:
		return "\U0001f535" // blue circle
	case r.Failed > 0 && r.Processed == 0 && r.Total > 0:
		return "\U0001f534" // red circle
	case r.Failed > 0 || len(o.Unmatched) > 0:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

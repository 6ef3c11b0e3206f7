// Package notify delivers run outcome notifications to a configured webhook.
// The endpoint flavor is unknown, so payloads are tried in order: Discord
// embed, Slack text, then a generic JSON document.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/storeops/tenant-backup/internal/retry"
)

const (
	colorSuccess = 0x00FF00
	colorFailure = 0xFF0000

	requestTimeout = 10 * time.Second
)

// Event is one run outcome to announce.
type Event struct {
	Title   string
	Message string
	IsError bool
	At      time.Time
}

// Notifier posts events to a single webhook URL.
type Notifier struct {
	url       string
	onSuccess bool
	onFailure bool
	client    *http.Client
	policy    retry.Policy
	logger    *slog.Logger
	footer    string
}

// New creates a webhook notifier. An empty URL yields a notifier that
// silently drops every event. Transient delivery failures retry under the
// given policy before the next payload format is tried.
func New(url string, onSuccess, onFailure bool, policy retry.Policy, logger *slog.Logger) *Notifier {
	return &Notifier{
		url:       url,
		onSuccess: onSuccess,
		onFailure: onFailure,
		client:    &http.Client{Timeout: requestTimeout},
		policy:    policy,
		logger:    logger.With("component", "notify"),
		footer:    "tenant-backup",
	}
}

// statusError carries a non-2xx webhook response code.
type statusError int

func (s statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", int(s))
}

// isTransient treats network failures and 5xx as retryable; a 4xx means the
// endpoint rejected the payload shape, so the next format is tried instead.
func isTransient(err error) bool {
	var se statusError
	if errors.As(err, &se) {
		return int(se) >= 500
	}
	return err != nil
}

// Send delivers one event, honoring the on-success/on-failure policy.
// Delivery failures are logged and swallowed: a broken webhook must never
// fail the run that triggered it.
func (n *Notifier) Send(ctx context.Context, ev Event) {
	if n.url == "" {
		return
	}
	if !ev.IsError && !n.onSuccess {
		return
	}
	if ev.IsError && !n.onFailure {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	for _, payload := range []any{n.discordPayload(ev), slackPayload(ev)} {
		if err := n.deliver(ctx, payload); err == nil {
			n.logger.Info("webhook notification sent", "title", ev.Title)
			return
		}
	}
	if err := n.deliver(ctx, genericPayload(ev)); err != nil {
		n.logger.Warn("webhook notification failed", "title", ev.Title, "error", err)
		return
	}
	n.logger.Info("webhook notification sent", "title", ev.Title)
}

// deliver posts one payload shape, retrying transient failures.
func (n *Notifier) deliver(ctx context.Context, payload any) error {
	return retry.Do(ctx, n.policy, isTransient, func(ctx context.Context) error {
		return n.post(ctx, payload)
	})
}

func (n *Notifier) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp.StatusCode)
	}
	return nil
}

func (n *Notifier) discordPayload(ev Event) map[string]any {
	color := colorSuccess
	if ev.IsError {
		color = colorFailure
	}
	return map[string]any{
		"embeds": []map[string]any{{
			"title":       ev.Title,
			"description": ev.Message,
			"color":       color,
			"footer": map[string]any{
				"text": fmt.Sprintf("%s - %s", n.footer, ev.At.Format("2006-01-02 15:04:05")),
			},
		}},
	}
}

func slackPayload(ev Event) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("*%s*\n%s", ev.Title, ev.Message),
	}
}

func genericPayload(ev Event) map[string]any {
	return map[string]any{
		"title":     ev.Title,
		"message":   ev.Message,
		"is_error":  ev.IsError,
		"timestamp": ev.At.Format("2006-01-02 15:04:05"),
	}
}

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tankobon/internal/config"
)

const userAgent = "Tankobon/0.1.0"

// Service defines the notification surface exposed to pipeline components.
// Implementations must treat delivery as best effort; callers log returned
// errors and move on.
type Service interface {
	NotifyChapterDownloaded(ctx context.Context, chapterURL string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a webhook backed notification service. When no webhook
// URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type webhookService struct {
	endpoint string
	client   *http.Client
}

func (w *webhookService) NotifyChapterDownloaded(ctx context.Context, chapterURL string) error {
	return w.send(ctx, fmt.Sprintf("New chapter downloaded: %s", strings.TrimSpace(chapterURL)))
}

func (w *webhookService) TestNotification(ctx context.Context) error {
	return w.send(ctx, "Tankobon notification test")
}

func (w *webhookService) send(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyChapterDownloaded(context.Context, string) error { return nil }
func (noopService) TestNotification(context.Context) error                { return nil }

// NewNoop returns a Service that discards all notifications.
func NewNoop() Service {
	return noopService{}
}

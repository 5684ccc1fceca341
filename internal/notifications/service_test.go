package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tankobon/internal/testsupport"
)

func TestNewServiceWithoutWebhookIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = ""

	service := NewService(cfg)
	if _, ok := service.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", service)
	}
	if err := service.NotifyChapterDownloaded(context.Background(), "https://example.com/c/1"); err != nil {
		t.Fatalf("noop notify: %v", err)
	}
}

func TestWebhookNotifyChapterDownloaded(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = server.URL

	service := NewService(cfg)
	if err := service.NotifyChapterDownloaded(context.Background(), "https://example.com/c/12"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received["content"] != "New chapter downloaded: https://example.com/c/12" {
		t.Fatalf("unexpected payload %#v", received)
	}
}

func TestWebhookSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = server.URL

	service := NewService(cfg)
	if err := service.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

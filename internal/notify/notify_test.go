package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"account_failed", "job_error"}, testLogger())

	if err := n.Notify(context.Background(), "account_failed", "failed", "x"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := n.Notify(context.Background(), "account_recovered", "recovered", "x"); err != nil {
		t.Fatalf("notify filtered event: %v", err)
	}
	if err := n.Notify(context.Background(), "job_error", "job failed", "x"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	want := []string{"failed", "job failed"}
	if len(sender.titles) != len(want) {
		t.Fatalf("delivered = %v, want %v", sender.titles, want)
	}
	for i := range want {
		if sender.titles[i] != want[i] {
			t.Errorf("delivered[%d] = %q, want %q", i, sender.titles[i], want[i])
		}
	}
}

func TestNotifierOneFailureDoesNotBlockOthers(t *testing.T) {
	broken := &recordingSender{name: "broken", err: io.ErrUnexpectedEOF}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected combined error from the broken sender")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error = %v, want mention of the failing sender", err)
	}
	if len(healthy.titles) != 1 {
		t.Errorf("healthy sender deliveries = %d, want 1", len(healthy.titles))
	}
}

func TestDiscordSenderPostsWebhook(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "Account failed", "hard breach"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if want := "**Account failed**\nhard breach"; got["content"] != want {
		t.Errorf("content = %q, want %q", got["content"], want)
	}
}

func TestDiscordSenderSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected error on non-2xx response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status in message", err)
	}
}

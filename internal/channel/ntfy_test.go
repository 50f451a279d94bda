package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

func newNtfyAgainst(t *testing.T, srv *httptest.Server) *Ntfy {
	t.Helper()
	s, err := NewNtfy(NtfyConfig{
		BaseURL:     srv.URL,
		Topic:       "hearth-test",
		AccessToken: "tok-123",
		Timeout:     2 * time.Second,
	}, srv.Client(), logx.Nop())
	if err != nil {
		t.Fatalf("NewNtfy: %v", err)
	}
	return s
}

func TestNtfyPublish(t *testing.T) {
	t.Parallel()
	var got *http.Request
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		b := make([]byte, 1024)
		n, _ := r.Body.Read(b)
		gotBody = string(b[:n])
		w.Write([]byte(`{"id":"msg-1","topic":"hearth-test"}`))
	}))
	defer srv.Close()

	s := newNtfyAgainst(t, srv)
	n := notify.Notification{
		ID:          "n1",
		RecipientID: "fam-1",
		Category:    notify.CategoryStockCritical,
		Title:       "Critical stock: Milk",
		Body:        "Milk is almost gone.",
		Priority:    notify.PriorityCritical,
		Icon:        "package",
		ClickURL:    "https://app.example.com/items/milk",
	}
	res := s.Send(context.Background(), n)
	if !res.Success {
		t.Fatalf("send failed: %s", res.Reason)
	}

	if got.URL.Path != "/hearth-test" {
		t.Fatalf("path = %q", got.URL.Path)
	}
	if gotBody != n.Body {
		t.Fatalf("body = %q", gotBody)
	}
	if got.Header.Get("Title") != n.Title {
		t.Fatalf("Title header = %q", got.Header.Get("Title"))
	}
	if got.Header.Get("Priority") != "5" {
		t.Fatalf("Priority header = %q, want 5 for critical", got.Header.Get("Priority"))
	}
	if got.Header.Get("Tags") != "package,stock_critical" {
		t.Fatalf("Tags header = %q", got.Header.Get("Tags"))
	}
	if got.Header.Get("Click") != n.ClickURL {
		t.Fatalf("Click header = %q", got.Header.Get("Click"))
	}
	if got.Header.Get("Authorization") != "Bearer tok-123" {
		t.Fatalf("Authorization header = %q", got.Header.Get("Authorization"))
	}
}

func TestNtfyNon2xxIsFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	res := newNtfyAgainst(t, srv).Send(context.Background(), notify.Notification{ID: "n1"})
	if res.Success {
		t.Fatal("403 must be a failure")
	}
	if !strings.Contains(res.Reason, "403") {
		t.Fatalf("reason should carry the status: %q", res.Reason)
	}
}

func TestNtfy2xxWithoutIDIsFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	res := newNtfyAgainst(t, srv).Send(context.Background(), notify.Notification{ID: "n1"})
	if res.Success {
		t.Fatal("a 200 without a message id is not an acknowledgement")
	}
}

func TestNtfyConfigErrors(t *testing.T) {
	t.Parallel()
	var cerr *ConfigError
	_, err := NewNtfy(NtfyConfig{Topic: "t"}, nil, logx.Nop())
	if !errors.As(err, &cerr) {
		t.Fatalf("missing base url: expected ConfigError, got %v", err)
	}
	_, err = NewNtfy(NtfyConfig{BaseURL: "https://ntfy.sh"}, nil, logx.Nop())
	if !errors.As(err, &cerr) {
		t.Fatalf("missing topic: expected ConfigError, got %v", err)
	}
}

func TestNtfyOnboardingURLs(t *testing.T) {
	t.Parallel()
	s, err := NewNtfy(NtfyConfig{BaseURL: "https://ntfy.sh", Topic: "fam topic"}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if s.SubscribeURL() != "https://ntfy.sh/fam topic" {
		t.Fatalf("SubscribeURL = %q", s.SubscribeURL())
	}
	if s.WebURL() != "https://ntfy.sh/app?topic=fam+topic" {
		t.Fatalf("WebURL = %q", s.WebURL())
	}
	if !strings.HasPrefix(s.QRCodeURL(), "https://api.qrserver.com/") {
		t.Fatalf("QRCodeURL = %q", s.QRCodeURL())
	}
}

func TestBrokerPriorityMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prio int
		want string
	}{
		{notify.PriorityCritical, "5"},
		{10, "5"},
		{notify.PriorityHigh, "4"},
		{notify.PriorityNormal, "3"},
		{notify.PriorityLow, "2"},
		{1, "1"},
		{0, "1"},
	}
	for _, tt := range tests {
		if got := brokerPriorityString(tt.prio); got != tt.want {
			t.Fatalf("brokerPriorityString(%d) = %s, want %s", tt.prio, got, tt.want)
		}
	}
}

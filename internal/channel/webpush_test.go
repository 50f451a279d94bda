package channel

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

// fakeDirectory is an in-memory SubscriptionDirectory recording retirements.
type fakeDirectory struct {
	mu          sync.Mutex
	subs        []notify.Subscription
	err         error
	deactivated []string
	used        []string
}

func (d *fakeDirectory) ActiveSubscriptions(context.Context, string) ([]notify.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]notify.Subscription(nil), d.subs...), nil
}

func (d *fakeDirectory) DeactivateSubscription(_ context.Context, _, endpoint string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deactivated = append(d.deactivated, endpoint)
	return nil
}

func (d *fakeDirectory) MarkSubscriptionUsed(_ context.Context, endpoint string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used = append(d.used, endpoint)
	return nil
}

func clientKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func newWebPushSender(t *testing.T, dir SubscriptionDirectory) *WebPush {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate vapid keys: %v", err)
	}
	s, err := NewWebPush(WebPushConfig{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriber:      "mailto:test@example.com",
		Timeout:         5 * time.Second,
	}, dir, logx.Nop())
	if err != nil {
		t.Fatalf("NewWebPush: %v", err)
	}
	return s
}

func subscriptionFor(t *testing.T, recipient, endpoint string) notify.Subscription {
	t.Helper()
	p256dh, auth := clientKeys(t)
	return notify.Subscription{
		ID:          notify.NewID(),
		RecipientID: recipient,
		Endpoint:    endpoint,
		P256dh:      p256dh,
		Auth:        auth,
		Active:      true,
	}
}

func TestWebPushConfigErrors(t *testing.T) {
	t.Parallel()
	var cerr *ConfigError
	_, err := NewWebPush(WebPushConfig{Subscriber: "mailto:a@b.c"}, &fakeDirectory{}, logx.Nop())
	if !errors.As(err, &cerr) {
		t.Fatalf("missing keys: expected ConfigError, got %v", err)
	}
	_, err = NewWebPush(WebPushConfig{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}, &fakeDirectory{}, logx.Nop())
	if !errors.As(err, &cerr) {
		t.Fatalf("missing subscriber: expected ConfigError, got %v", err)
	}
}

func TestWebPushNoSubscriptions(t *testing.T) {
	t.Parallel()
	s := newWebPushSender(t, &fakeDirectory{})
	res := s.Send(context.Background(), notify.Notification{ID: "n1", RecipientID: "fam-1"})
	if res.Success {
		t.Fatal("no devices means no delivery")
	}
}

func TestWebPushDelivers(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	dir := &fakeDirectory{subs: []notify.Subscription{subscriptionFor(t, "fam-1", srv.URL)}}
	s := newWebPushSender(t, dir)

	res := s.Send(context.Background(), notify.Notification{
		ID:          "n1",
		RecipientID: "fam-1",
		Title:       "Low stock: Milk",
		Body:        "Milk is running low.",
		DedupKey:    "fam-1|stock_bas|milk",
	})
	if !res.Success {
		t.Fatalf("send failed: %s", res.Reason)
	}
	if len(dir.used) != 1 {
		t.Fatalf("expected one last-used update, got %d", len(dir.used))
	}
}

func TestWebPushPartialFailureStillSucceeds(t *testing.T) {
	t.Parallel()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	dir := &fakeDirectory{subs: []notify.Subscription{
		subscriptionFor(t, "fam-1", bad.URL),
		subscriptionFor(t, "fam-1", good.URL),
	}}
	s := newWebPushSender(t, dir)

	res := s.Send(context.Background(), notify.Notification{ID: "n1", RecipientID: "fam-1"})
	if !res.Success {
		t.Fatalf("one delivered device should make the aggregate succeed: %s", res.Reason)
	}
	if len(dir.deactivated) != 0 {
		t.Fatalf("a 500 must not retire a subscription: %v", dir.deactivated)
	}
}

func TestWebPushGoneEndpointRetired(t *testing.T) {
	t.Parallel()
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer gone.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer good.Close()

	dir := &fakeDirectory{subs: []notify.Subscription{
		subscriptionFor(t, "fam-1", gone.URL),
		subscriptionFor(t, "fam-1", good.URL),
	}}
	s := newWebPushSender(t, dir)

	res := s.Send(context.Background(), notify.Notification{ID: "n1", RecipientID: "fam-1"})
	if !res.Success {
		t.Fatalf("surviving device should deliver: %s", res.Reason)
	}
	if len(dir.deactivated) != 1 || dir.deactivated[0] != gone.URL {
		t.Fatalf("only the gone endpoint should be retired: %v", dir.deactivated)
	}
}

func TestWebPushAllFailed(t *testing.T) {
	t.Parallel()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	dir := &fakeDirectory{subs: []notify.Subscription{subscriptionFor(t, "fam-1", bad.URL)}}
	s := newWebPushSender(t, dir)

	res := s.Send(context.Background(), notify.Notification{ID: "n1", RecipientID: "fam-1"})
	if res.Success {
		t.Fatal("every device failing must fail the aggregate")
	}
}

func TestUrgencyForPriority(t *testing.T) {
	t.Parallel()
	if urgencyForPriority(notify.PriorityCritical) != webpush.UrgencyHigh {
		t.Fatal("critical should map to high urgency")
	}
	if urgencyForPriority(notify.PriorityLow) != webpush.UrgencyLow {
		t.Fatal("low should map to low urgency")
	}
	if urgencyForPriority(notify.PriorityNormal) != webpush.UrgencyNormal {
		t.Fatal("normal should map to normal urgency")
	}
}

func TestWebPushPayloadCarriesBadgeIcon(t *testing.T) {
	t.Parallel()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate vapid keys: %v", err)
	}
	s, err := NewWebPush(WebPushConfig{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriber:      "mailto:test@example.com",
		BadgeIcon:       "/icons/badge-96.png",
	}, &fakeDirectory{}, logx.Nop())
	if err != nil {
		t.Fatalf("NewWebPush: %v", err)
	}

	p := s.payload(notify.Notification{Title: "Low stock: Milk"})
	if p.Badge != "/icons/badge-96.png" {
		t.Fatalf("badge = %q", p.Badge)
	}

	// Without a configured icon the field stays absent from the JSON.
	bare := newWebPushSender(t, &fakeDirectory{})
	if got := bare.payload(notify.Notification{Title: "t"}).Badge; got != "" {
		t.Fatalf("unconfigured badge = %q", got)
	}
}

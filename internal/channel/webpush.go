package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

const defaultWebPushTimeout = 5 * time.Second

// SubscriptionDirectory is the slice of the store the web push channel
// needs: who has devices, and how to retire a dead endpoint.
type SubscriptionDirectory interface {
	ActiveSubscriptions(ctx context.Context, recipientID string) ([]notify.Subscription, error)
	DeactivateSubscription(ctx context.Context, recipientID, endpoint string) error
	MarkSubscriptionUsed(ctx context.Context, endpoint string, at time.Time) error
}

// WebPushConfig carries the VAPID application key pair. Keys come from the
// environment and are never logged.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string // contact mailto/URL required by the push service
	BadgeIcon       string // monochrome status-bar icon shown by the browser
	TTL             time.Duration
	Timeout         time.Duration
}

// WebPush delivers provider-signed payloads to every active subscription of
// the recipient. The aggregate succeeds when at least one device accepted;
// a gone/not-found response retires only that subscription.
type WebPush struct {
	cfg  WebPushConfig
	dir  SubscriptionDirectory
	log  logx.Logger
	http *http.Client
}

func NewWebPush(cfg WebPushConfig, dir SubscriptionDirectory, log logx.Logger) (*WebPush, error) {
	if strings.TrimSpace(cfg.VAPIDPublicKey) == "" || strings.TrimSpace(cfg.VAPIDPrivateKey) == "" {
		return nil, &ConfigError{Channel: "webpush", Reason: "VAPID key pair is not configured"}
	}
	if strings.TrimSpace(cfg.Subscriber) == "" {
		return nil, &ConfigError{Channel: "webpush", Reason: "subscriber contact is not configured"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebPushTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebPush{cfg: cfg, dir: dir, log: log, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (s *WebPush) Name() string { return "webpush" }

// pushPayload is the JSON document the service worker receives.
type pushPayload struct {
	Title              string          `json:"title"`
	Body               string          `json:"body"`
	Icon               string          `json:"icon,omitempty"`
	Badge              string          `json:"badge,omitempty"`
	Tag                string          `json:"tag,omitempty"`
	Data               pushData        `json:"data"`
	Actions            []notify.Action `json:"actions,omitempty"`
	Vibrate            []int           `json:"vibrate,omitempty"`
	RequireInteraction bool            `json:"requireInteraction"`
	Silent             bool            `json:"silent"`
	Timestamp          int64           `json:"timestamp"`
}

type pushData struct {
	URL  string `json:"url,omitempty"`
	Type string `json:"type"`
}

func (s *WebPush) Send(ctx context.Context, n notify.Notification) notify.DispatchResult {
	subs, err := s.dir.ActiveSubscriptions(ctx, n.RecipientID)
	if err != nil {
		return failure(s.Name(), n, "load subscriptions: %v", err)
	}
	if len(subs) == 0 {
		return failure(s.Name(), n, "no active subscriptions")
	}

	payload, err := json.Marshal(s.payload(n))
	if err != nil {
		return failure(s.Name(), n, "encode payload: %v", err)
	}

	delivered := 0
	var lastErr string
	for _, sub := range subs {
		if err := s.sendOne(ctx, sub, payload, n.Priority); err != "" {
			lastErr = err
			continue
		}
		delivered++
		_ = s.dir.MarkSubscriptionUsed(ctx, sub.Endpoint, time.Now())
	}

	if delivered == 0 {
		return failure(s.Name(), n, "all %d subscriptions failed: %s", len(subs), lastErr)
	}
	return success(s.Name(), n)
}

// sendOne posts to a single endpoint and returns "" on success or the
// failure text otherwise.
func (s *WebPush) sendOne(ctx context.Context, sub notify.Subscription, payload []byte, priority int) string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      s.http,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             int(s.cfg.TTL.Seconds()),
		Urgency:         urgencyForPriority(priority),
	})
	if err != nil {
		return err.Error()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return ""
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The push service says this device is gone for good.
		if derr := s.dir.DeactivateSubscription(ctx, sub.RecipientID, sub.Endpoint); derr != nil {
			s.log.Warn("failed to retire dead subscription", logx.Err(derr))
		} else {
			s.log.Info("retired dead subscription", logx.String("recipient", sub.RecipientID), logx.Int("status", resp.StatusCode))
		}
		return "endpoint gone"
	default:
		return "status " + resp.Status
	}
}

func (s *WebPush) payload(n notify.Notification) pushPayload {
	p := pushPayload{
		Title:              n.Title,
		Body:               n.Body,
		Icon:               n.Icon,
		Badge:              s.cfg.BadgeIcon,
		Tag:                n.DedupKey,
		Data:               pushData{URL: n.ClickURL, Type: string(n.Category)},
		Actions:            n.Actions,
		RequireInteraction: n.Priority >= notify.PriorityCritical,
		Silent:             false,
		Timestamp:          time.Now().UnixMilli(),
	}
	if n.Priority >= notify.PriorityHigh {
		p.Vibrate = []int{200, 100, 200}
	}
	return p
}

func urgencyForPriority(p int) webpush.Urgency {
	switch {
	case p >= notify.PriorityCritical:
		return webpush.UrgencyHigh
	case p <= notify.PriorityLow:
		return webpush.UrgencyLow
	default:
		return webpush.UrgencyNormal
	}
}

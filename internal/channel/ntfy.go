package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

const (
	defaultNtfyTimeout = 5 * time.Second
	ntfyBodyLimit      = 4 << 10
)

// NtfyConfig configures the topic push broker channel.
type NtfyConfig struct {
	BaseURL     string
	Topic       string
	AccessToken string        // optional bearer token, never logged
	Delay       string        // optional broker-side delay, e.g. "30s"
	Timeout     time.Duration // per-publish bound
}

// Ntfy publishes one HTTP POST per notification to <base>/<topic>.
// Success is any 2xx response whose JSON body carries an id.
type Ntfy struct {
	cfg    NtfyConfig
	client *http.Client
	log    logx.Logger
}

func NewNtfy(cfg NtfyConfig, client *http.Client, log logx.Logger) (*Ntfy, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Topic = strings.TrimSpace(cfg.Topic)
	if cfg.BaseURL == "" {
		return nil, &ConfigError{Channel: "ntfy", Reason: "base URL is not configured"}
	}
	if cfg.Topic == "" {
		return nil, &ConfigError{Channel: "ntfy", Reason: "topic is not configured"}
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Channel: "ntfy", Reason: "base URL is not a valid URL"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNtfyTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ntfy{cfg: cfg, client: client, log: log}, nil
}

func (s *Ntfy) Name() string { return "ntfy" }

func (s *Ntfy) Send(ctx context.Context, n notify.Notification) notify.DispatchResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.PublishURL(), strings.NewReader(n.Body))
	if err != nil {
		return failure(s.Name(), n, "build request: %v", err)
	}
	req.Header.Set("Title", n.Title)
	req.Header.Set("Priority", brokerPriorityString(n.Priority))
	if tags := s.tags(n); tags != "" {
		req.Header.Set("Tags", tags)
	}
	if n.ClickURL != "" {
		req.Header.Set("Click", n.ClickURL)
	}
	if s.cfg.Delay != "" {
		req.Header.Set("Delay", s.cfg.Delay)
	}
	if s.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return failure(s.Name(), n, "publish: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, ntfyBodyLimit))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(s.Name(), n, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ack struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &ack); err != nil || ack.ID == "" {
		return failure(s.Name(), n, "status %d without message id: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	s.log.Debug("published to broker", logx.String("id", ack.ID), logx.String("category", string(n.Category)))
	return success(s.Name(), n)
}

func (s *Ntfy) tags(n notify.Notification) string {
	tags := make([]string, 0, 2)
	if n.Icon != "" {
		tags = append(tags, n.Icon)
	}
	tags = append(tags, string(n.Category))
	return strings.Join(tags, ",")
}

// PublishURL is the POST target for this topic.
func (s *Ntfy) PublishURL() string { return s.cfg.BaseURL + "/" + s.cfg.Topic }

// SubscribeURL is what a phone app scans or types to follow the topic.
func (s *Ntfy) SubscribeURL() string { return s.cfg.BaseURL + "/" + s.cfg.Topic }

// WebURL opens the broker's web app pinned to the topic.
func (s *Ntfy) WebURL() string {
	return s.cfg.BaseURL + "/app?topic=" + url.QueryEscape(s.cfg.Topic)
}

// QRCodeURL renders the subscribe link as a QR image for onboarding.
func (s *Ntfy) QRCodeURL() string {
	return "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=" + url.QueryEscape(s.SubscribeURL())
}

// brokerPriorityString maps the internal 0..10 priority onto the broker's
// 1 (min) .. 5 (urgent) scale.
func brokerPriorityString(p int) string {
	switch {
	case p >= notify.PriorityCritical:
		return "5"
	case p >= notify.PriorityHigh:
		return "4"
	case p >= notify.PriorityNormal:
		return "3"
	case p >= notify.PriorityLow:
		return "2"
	default:
		return "1"
	}
}

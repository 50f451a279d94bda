package channel

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"hearth/internal/notify"
	"hearth/pkg/logx"
)

const defaultTelegramTimeout = 5 * time.Second

// TelegramConfig configures the optional household-chat mirror.
type TelegramConfig struct {
	Token   string // bot token, never logged
	ChatID  int64  // shared household chat
	Timeout time.Duration
}

// Telegram mirrors notifications into one shared chat. Send-only: the bot
// never polls for updates.
type Telegram struct {
	cfg TelegramConfig
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &ConfigError{Channel: "telegram", Reason: "bot token is not configured"}
	}
	if cfg.ChatID == 0 {
		return nil, &ConfigError{Channel: "telegram", Reason: "chat id is not configured"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTelegramTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline keeps NewBot from hitting getMe during wiring; the first Send
	// surfaces a bad token as a failed result instead.
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, &ConfigError{Channel: "telegram", Reason: err.Error()}
	}
	return &Telegram{cfg: cfg, bot: bot, log: log}, nil
}

func (s *Telegram) Name() string { return "telegram" }

func (s *Telegram) Send(ctx context.Context, n notify.Notification) notify.DispatchResult {
	// telebot has no context-aware send; keep the bound via a watchdog that
	// is cheap when the call returns in time.
	done := make(chan notify.DispatchResult, 1)
	go func() {
		text := fmt.Sprintf("%s<b>%s</b>\n%s",
			prefixForPriority(n.Priority), html.EscapeString(n.Title), html.EscapeString(n.Body))
		_, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		if err != nil {
			done <- failure(s.Name(), n, "send: %v", err)
			return
		}
		done <- success(s.Name(), n)
	}()

	timeout := time.NewTimer(s.cfg.Timeout)
	defer timeout.Stop()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return failure(s.Name(), n, "abandoned: %v", ctx.Err())
	case <-timeout.C:
		return failure(s.Name(), n, "timeout after %s", s.cfg.Timeout)
	}
}

func prefixForPriority(p int) string {
	switch {
	case p >= notify.PriorityCritical:
		return "🚨 "
	case p >= notify.PriorityHigh:
		return "⚠️ "
	default:
		return ""
	}
}

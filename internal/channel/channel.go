// Package channel implements the delivery channels behind one send
// contract.
//
// A Sender must never let a failure escape as a panic or error: every
// outcome, including transport failures, is folded into the DispatchResult.
package channel

import (
	"context"
	"fmt"

	"hearth/internal/notify"
)

// Sender delivers one notification to its recipient over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, n notify.Notification) notify.DispatchResult
}

// ConfigError reports missing or invalid channel credentials. The channel
// is left out of the dispatcher for the life of the process and the problem
// is reported once, never per send.
type ConfigError struct {
	Channel string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("channel %s: %s", e.Channel, e.Reason)
}

// Guard wraps a sender so any panic inside Send becomes a failed result
// carrying the raw error text.
func Guard(s Sender) Sender { return &guarded{inner: s} }

type guarded struct {
	inner Sender
}

func (g *guarded) Name() string { return g.inner.Name() }

func (g *guarded) Send(ctx context.Context, n notify.Notification) (res notify.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = notify.DispatchResult{
				Channel:        g.inner.Name(),
				Reason:         fmt.Sprintf("panic: %v", r),
				NotificationID: n.ID,
			}
		}
	}()
	return g.inner.Send(ctx, n)
}

func failure(channel string, n notify.Notification, format string, args ...any) notify.DispatchResult {
	return notify.DispatchResult{
		Channel:        channel,
		Reason:         fmt.Sprintf(format, args...),
		NotificationID: n.ID,
	}
}

func success(channel string, n notify.Notification) notify.DispatchResult {
	return notify.DispatchResult{
		Success:        true,
		Channel:        channel,
		NotificationID: n.ID,
	}
}

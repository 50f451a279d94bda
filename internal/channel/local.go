package channel

import (
	"context"

	"hearth/internal/notify"
)

const defaultLocalCap = 100

// Inbox is the slice of storage the in-app channel reads its state from.
// *storage.Store satisfies it.
type Inbox interface {
	UnreadByDedupKey(ctx context.Context, recipientID, dedupKey string) (notify.Notification, bool, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]notify.Notification, error)
	PruneRead(ctx context.Context, recipientID string, keep int) (int64, error)
}

// Local is the in-app channel. It keeps no state of its own: the shared
// notification history is the list, so marking an entry read over HTTP
// frees its dedup key here too.
//
// Send refuses a duplicate unread dedup key and, once a recipient's list
// reaches the cap, prunes oldest read entries first. When everything is
// unread the send fails rather than dropping anything unread.
type Local struct {
	cap   int
	inbox Inbox
}

func NewLocal(capPerRecipient int, inbox Inbox) *Local {
	if capPerRecipient <= 0 {
		capPerRecipient = defaultLocalCap
	}
	return &Local{cap: capPerRecipient, inbox: inbox}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Send(ctx context.Context, n notify.Notification) notify.DispatchResult {
	if n.DedupKey != "" {
		_, found, err := l.inbox.UnreadByDedupKey(ctx, n.RecipientID, n.DedupKey)
		if err != nil {
			return failure(l.Name(), n, "dedup lookup: %v", err)
		}
		if found {
			return failure(l.Name(), n, "duplicate unread entry")
		}
	}

	list, err := l.inbox.ListNotifications(ctx, n.RecipientID, 0)
	if err != nil {
		return failure(l.Name(), n, "list: %v", err)
	}
	if len(list) >= l.cap {
		removed, err := l.inbox.PruneRead(ctx, n.RecipientID, l.cap-1)
		if err != nil {
			return failure(l.Name(), n, "prune: %v", err)
		}
		if remaining := len(list) - int(removed); remaining >= l.cap {
			return failure(l.Name(), n, "list full (%d unread entries)", remaining)
		}
	}
	return success(l.Name(), n)
}

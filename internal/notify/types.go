package notify

import (
	"time"

	"github.com/google/uuid"
)

// Category identifies the kind of event a notification reports.
//
// The wire values are stable: they are persisted, used in preference toggles
// and in dedup keys. Do not rename without a migration.
type Category string

const (
	CategoryStockLow         Category = "stock_bas"
	CategoryStockCritical    Category = "stock_critical"
	CategoryExpiryAlert      Category = "expiry_alert"
	CategoryExpiryCritical   Category = "expiry_critical"
	CategoryMealReminder     Category = "meal_reminder"
	CategorySharedListUpdate Category = "shared_list_update"
	CategoryActivityReminder Category = "activity_reminder"
	CategoryMilestone        Category = "milestone_reminder"
	CategoryTaskOverdue      Category = "task_overdue"
	CategoryTaskDueToday     Category = "task_due_today"
	CategoryShoppingUrgent   Category = "shopping_urgent"
	CategoryDailyDigest      Category = "daily_digest"
)

// Categories lists every known category, in a stable order.
func Categories() []Category {
	return []Category{
		CategoryStockLow, CategoryStockCritical,
		CategoryExpiryAlert, CategoryExpiryCritical,
		CategoryMealReminder, CategorySharedListUpdate,
		CategoryActivityReminder, CategoryMilestone,
		CategoryTaskOverdue, CategoryTaskDueToday,
		CategoryShoppingUrgent, CategoryDailyDigest,
	}
}

func (c Category) Valid() bool {
	for _, k := range Categories() {
		if c == k {
			return true
		}
	}
	return false
}

// Default priorities, 0 low .. 10 high.
const (
	PriorityLow      = 2
	PriorityNormal   = 5
	PriorityHigh     = 7
	PriorityCritical = 9
)

// Action is a suggested interaction rendered by delivery channels that
// support it (web push action buttons, broker click targets).
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
}

// Notification is one alert addressed to one recipient.
//
// Invariant: at most one unread notification per (recipient, dedup key).
// The dispatcher enforces it; the store's unread lookup supports it.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Category    Category  `json:"category"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Priority    int       `json:"priority"`
	DedupKey    string    `json:"dedup_key"`
	Icon        string    `json:"icon,omitempty"`
	ClickURL    string    `json:"click_url,omitempty"`
	Actions     []Action  `json:"actions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Sent        bool      `json:"sent"`
	Read        bool      `json:"read"`
}

// NewID returns a fresh notification id.
func NewID() string { return uuid.NewString() }

// DispatchResult reports the outcome of one dispatch attempt.
//
// Policy denials are not errors: Denied is set and Reason carries one of the
// ReasonXxx codes so callers can tell "suppressed" from "broken".
type DispatchResult struct {
	Success        bool   `json:"success"`
	Denied         bool   `json:"denied,omitempty"`
	Channel        string `json:"channel,omitempty"`
	Reason         string `json:"reason,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

// Reason codes carried by DispatchResult.
const (
	ReasonDisabled    = "disabled"
	ReasonQuietHours  = "quiet_hours"
	ReasonRateLimited = "rate_limited"
	ReasonDuplicate   = "duplicate"
)

// Preferences is one recipient's notification preference document.
//
// QuietStart/QuietEnd are hours of day (0..23) or nil when unset. The quiet
// window may wrap midnight (start > end). Equal start and end means the
// window never applies.
type Preferences struct {
	RecipientID string            `json:"recipient_id"`
	Enabled     map[Category]bool `json:"enabled"`
	QuietStart  *int              `json:"quiet_hours_start"`
	QuietEnd    *int              `json:"quiet_hours_end"`
	MaxPerHour  int               `json:"max_per_hour"`
	DigestMode  bool              `json:"digest_mode"`
}

// DefaultPreferences returns the document used when a recipient has never
// saved one: everything on, no quiet hours, a generous hourly cap.
func DefaultPreferences(recipientID string) Preferences {
	enabled := make(map[Category]bool, len(Categories()))
	for _, c := range Categories() {
		enabled[c] = true
	}
	return Preferences{
		RecipientID: recipientID,
		Enabled:     enabled,
		MaxPerHour:  10,
	}
}

// CategoryEnabled reports whether cat is switched on. Unknown categories
// default to enabled so new alert kinds are not silently dropped for
// recipients with older preference documents.
func (p Preferences) CategoryEnabled(cat Category) bool {
	if p.Enabled == nil {
		return true
	}
	v, ok := p.Enabled[cat]
	if !ok {
		return true
	}
	return v
}

// Subscription is one device push registration for a recipient.
type Subscription struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Endpoint    string    `json:"endpoint"`
	P256dh      string    `json:"p256dh"`
	Auth        string    `json:"auth"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

package notify

import (
	"fmt"
	"strings"
	"time"
)

// Catalog builders turn domain facts into notification drafts.
//
// Builders are pure: the same fact always yields the same draft and, in
// particular, the same dedup key. Drafts carry no ID or timestamp; the
// dispatcher assigns both when the notification is persisted.

// stockCriticalRatio marks stock as critical below this share of the
// configured minimum.
const stockCriticalRatio = 0.5

// DedupKey derives the deterministic key identifying the logical subject of
// a notification for one recipient.
func DedupKey(recipientID string, cat Category, subject string) string {
	return recipientID + "|" + string(cat) + "|" + slug(subject)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "-")
}

// StockAlert builds a low/critical stock draft. It reports ok=false when the
// quantity is at or above the minimum, i.e. nothing to alert about.
func StockAlert(recipientID, item string, quantity, minimum float64) (Notification, bool) {
	if minimum <= 0 || quantity >= minimum {
		return Notification{}, false
	}
	cat := CategoryStockLow
	prio := PriorityNormal
	title := fmt.Sprintf("Low stock: %s", item)
	body := fmt.Sprintf("%s is running low (%s left, minimum %s).", item, trimFloat(quantity), trimFloat(minimum))
	if quantity < minimum*stockCriticalRatio {
		cat = CategoryStockCritical
		prio = PriorityCritical
		title = fmt.Sprintf("Critical stock: %s", item)
		body = fmt.Sprintf("%s is almost gone (%s left, minimum %s).", item, trimFloat(quantity), trimFloat(minimum))
	}
	return Notification{
		RecipientID: recipientID,
		Category:    cat,
		Title:       title,
		Body:        body,
		Priority:    prio,
		DedupKey:    DedupKey(recipientID, cat, item),
		Icon:        "package",
		Actions: []Action{
			{Action: "add_to_list", Title: "Add to shopping list"},
		},
	}, true
}

// ExpiryAlert builds an expiry draft. daysLeft <= 0 means already expired
// (critical), exactly 1 phrases "tomorrow", anything later "in N days".
// Callers apply the alert window (default 7 days) before invoking.
func ExpiryAlert(recipientID, item string, daysLeft int) Notification {
	var (
		cat   Category
		prio  int
		title string
		body  string
	)
	switch {
	case daysLeft <= 0:
		cat = CategoryExpiryCritical
		prio = PriorityCritical
		title = fmt.Sprintf("%s has expired", item)
		body = fmt.Sprintf("%s expired and should be checked before use.", item)
	case daysLeft == 1:
		cat = CategoryExpiryCritical
		prio = PriorityHigh
		title = fmt.Sprintf("%s expires tomorrow", item)
		body = fmt.Sprintf("Use %s before tomorrow.", item)
	default:
		cat = CategoryExpiryAlert
		prio = PriorityNormal
		title = fmt.Sprintf("%s expires in %d days", item, daysLeft)
		body = fmt.Sprintf("%s expires in %d days.", item, daysLeft)
	}
	return Notification{
		RecipientID: recipientID,
		Category:    cat,
		Title:       title,
		Body:        body,
		Priority:    prio,
		DedupKey:    DedupKey(recipientID, cat, item),
		Icon:        "clock",
	}
}

// MealReminder reminds about a planned meal (slot is e.g. "dinner").
func MealReminder(recipientID, meal, slot string) Notification {
	return Notification{
		RecipientID: recipientID,
		Category:    CategoryMealReminder,
		Title:       fmt.Sprintf("Meal reminder: %s", meal),
		Body:        fmt.Sprintf("%s is planned for %s.", meal, slot),
		Priority:    PriorityLow,
		DedupKey:    DedupKey(recipientID, CategoryMealReminder, meal+" "+slot),
		Icon:        "utensils",
	}
}

// SharedListUpdate reports a change made by another household member.
func SharedListUpdate(recipientID, listName, actor string) Notification {
	return Notification{
		RecipientID: recipientID,
		Category:    CategorySharedListUpdate,
		Title:       fmt.Sprintf("%s updated", listName),
		Body:        fmt.Sprintf("%s made changes to %s.", actor, listName),
		Priority:    PriorityLow,
		DedupKey:    DedupKey(recipientID, CategorySharedListUpdate, listName),
		Icon:        "list",
	}
}

// ActivityReminder reminds about an upcoming family activity.
func ActivityReminder(recipientID, activity, when string) Notification {
	return Notification{
		RecipientID: recipientID,
		Category:    CategoryActivityReminder,
		Title:       fmt.Sprintf("Upcoming: %s", activity),
		Body:        fmt.Sprintf("%s is coming up %s.", activity, when),
		Priority:    PriorityNormal,
		DedupKey:    DedupKey(recipientID, CategoryActivityReminder, activity),
		Icon:        "calendar",
	}
}

// MilestoneReminder reminds about a development milestone check.
func MilestoneReminder(recipientID, subject, milestone string) Notification {
	return Notification{
		RecipientID: recipientID,
		Category:    CategoryMilestone,
		Title:       fmt.Sprintf("Milestone: %s", milestone),
		Body:        fmt.Sprintf("Time to check %q for %s.", milestone, subject),
		Priority:    PriorityLow,
		DedupKey:    DedupKey(recipientID, CategoryMilestone, subject+" "+milestone),
		Icon:        "star",
	}
}

// TaskOverdue reports a routine task past its due date.
func TaskOverdue(recipientID, task string, due time.Time) Notification {
	return Notification{
		RecipientID: recipientID,
		Category:    CategoryTaskOverdue,
		Title:       fmt.Sprintf("Overdue: %s", task),
		Body:        fmt.Sprintf("%s was due on %s.", task, due.Format("Mon 2 Jan")),
		Priority:    PriorityHigh,
		DedupKey:    DedupKey(recipientID, CategoryTaskOverdue, task),
		Icon:        "alert",
		Actions: []Action{
			{Action: "mark_done", Title: "Mark done"},
		},
	}
}

// TaskDueToday reports a routine task due today.
func TaskDueToday(recipientID, task string) Notification {
	return Notification{
		RecipientID: recipientID,
		Category:    CategoryTaskDueToday,
		Title:       fmt.Sprintf("Due today: %s", task),
		Body:        fmt.Sprintf("%s is due today.", task),
		Priority:    PriorityNormal,
		DedupKey:    DedupKey(recipientID, CategoryTaskDueToday, task),
		Icon:        "check",
	}
}

// ShoppingUrgent reports a high-priority item still unpurchased.
func ShoppingUrgent(recipientID, item string) Notification {
	return Notification{
		RecipientID: recipientID,
		Category:    CategoryShoppingUrgent,
		Title:       fmt.Sprintf("Still to buy: %s", item),
		Body:        fmt.Sprintf("%s is marked urgent and has not been purchased.", item),
		Priority:    PriorityHigh,
		DedupKey:    DedupKey(recipientID, CategoryShoppingUrgent, item),
		Icon:        "cart",
	}
}

// DigestCounts aggregates a day's pending facts for one recipient.
type DigestCounts struct {
	OverdueTasks int
	DueToday     int
	UrgentItems  int
}

func (c DigestCounts) Total() int { return c.OverdueTasks + c.DueToday + c.UrgentItems }

// DailyDigest builds the single summary notification sent instead of one
// alert per item. The dedup key is day-scoped so at most one digest per
// recipient per day stays unread.
func DailyDigest(recipientID string, day time.Time, c DigestCounts) Notification {
	parts := make([]string, 0, 3)
	if c.OverdueTasks > 0 {
		parts = append(parts, fmt.Sprintf("%d overdue %s", c.OverdueTasks, plural(c.OverdueTasks, "task")))
	}
	if c.DueToday > 0 {
		parts = append(parts, fmt.Sprintf("%d due today", c.DueToday))
	}
	if c.UrgentItems > 0 {
		parts = append(parts, fmt.Sprintf("%d urgent shopping %s", c.UrgentItems, plural(c.UrgentItems, "item")))
	}
	body := "Nothing pending today."
	if len(parts) > 0 {
		body = "Pending: " + strings.Join(parts, ", ") + "."
	}
	return Notification{
		RecipientID: recipientID,
		Category:    CategoryDailyDigest,
		Title:       "Your daily summary",
		Body:        body,
		Priority:    PriorityLow,
		DedupKey:    DedupKey(recipientID, CategoryDailyDigest, day.Format("2006-01-02")),
		Icon:        "sun",
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

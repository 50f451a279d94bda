package schedule

import (
	"context"
	"time"
)

// Collaborator queries. The domain services owning tasks and shopping lists
// live outside the engine; the scheduler only reads facts from them.

// TaskFact is one routine task as reported by the task service.
type TaskFact struct {
	RecipientID string
	Name        string
	Due         time.Time
}

// ItemFact is one shopping item as reported by the shopping service.
type ItemFact struct {
	RecipientID string
	Name        string
}

type TaskSource interface {
	// OverdueTasks lists tasks whose due date is strictly before asOf's day.
	OverdueTasks(ctx context.Context, asOf time.Time) ([]TaskFact, error)
	// TasksDueToday lists tasks due on day.
	TasksDueToday(ctx context.Context, day time.Time) ([]TaskFact, error)
}

type ShoppingSource interface {
	// UrgentUnpurchased lists high-priority items not yet bought.
	UrgentUnpurchased(ctx context.Context) ([]ItemFact, error)
}

// NopSource satisfies both source interfaces with empty answers. It is the
// default until a domain service is attached.
type NopSource struct{}

func (NopSource) OverdueTasks(context.Context, time.Time) ([]TaskFact, error)  { return nil, nil }
func (NopSource) TasksDueToday(context.Context, time.Time) ([]TaskFact, error) { return nil, nil }
func (NopSource) UrgentUnpurchased(context.Context) ([]ItemFact, error)        { return nil, nil }

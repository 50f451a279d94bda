// Package policy decides whether a candidate notification may be sent now.
//
// Evaluate is pure: preferences, clock hour and throttle count come in,
// a Decision comes out. No I/O, no shared state.
package policy

import (
	"hearth/internal/notify"
)

// Decision is the evaluator's outcome. A denial is not an error; Reason
// carries one of the notify.ReasonXxx codes.
type Decision struct {
	Allowed bool
	Reason  string
}

// Table is the explicit policy table. Which categories may override quiet
// hours is product policy, not a naming convention, so it lives in
// configuration with these defaults.
type Table struct {
	Override map[notify.Category]bool
}

// DefaultTable allows critical stock and critical expiry alerts through
// quiet hours.
func DefaultTable() Table {
	return Table{Override: map[notify.Category]bool{
		notify.CategoryStockCritical:  true,
		notify.CategoryExpiryCritical: true,
	}}
}

// NewTable builds a table from configured category names. Unknown names are
// ignored; an empty list falls back to the defaults.
func NewTable(overrides []string) Table {
	if len(overrides) == 0 {
		return DefaultTable()
	}
	t := Table{Override: map[notify.Category]bool{}}
	for _, s := range overrides {
		c := notify.Category(s)
		if c.Valid() {
			t.Override[c] = true
		}
	}
	return t
}

// OverridesQuietHours reports whether cat may be delivered inside the quiet
// window.
func (t Table) OverridesQuietHours(cat notify.Category) bool {
	return t.Override[cat]
}

// Evaluate applies the decision order: category toggle, quiet hours (with
// override set), hourly rate limit.
func (t Table) Evaluate(cat notify.Category, prefs notify.Preferences, hour, bucketCount int) Decision {
	if !prefs.CategoryEnabled(cat) {
		return Decision{Reason: notify.ReasonDisabled}
	}
	if InQuietHours(prefs.QuietStart, prefs.QuietEnd, hour) && !t.OverridesQuietHours(cat) {
		return Decision{Reason: notify.ReasonQuietHours}
	}
	maxPerHour := prefs.MaxPerHour
	if maxPerHour < 1 {
		maxPerHour = 1
	}
	if bucketCount >= maxPerHour {
		return Decision{Reason: notify.ReasonRateLimited}
	}
	return Decision{Allowed: true}
}

// InQuietHours reports whether hour falls inside the [start, end) window.
// The window is circular: start > end wraps past midnight. A nil bound or
// start == end means the window never applies.
func InQuietHours(start, end *int, hour int) bool {
	if start == nil || end == nil {
		return false
	}
	s, e := *start, *end
	if s == e {
		return false
	}
	if s < e {
		return s <= hour && hour < e
	}
	return hour >= s || hour < e
}

package policy

import (
	"testing"

	"hearth/internal/notify"
)

func intp(v int) *int { return &v }

func TestInQuietHoursSimpleWindow(t *testing.T) {
	t.Parallel()
	// 9..17: inside at 9 and 16, outside at 8 and 17.
	tests := []struct {
		hour string
		h    int
		want bool
	}{
		{"before", 8, false},
		{"start", 9, true},
		{"inside", 12, true},
		{"last", 16, true},
		{"end", 17, false},
		{"after", 20, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.hour, func(t *testing.T) {
			if got := InQuietHours(intp(9), intp(17), tt.h); got != tt.want {
				t.Fatalf("InQuietHours(9,17,%d) = %v, want %v", tt.h, got, tt.want)
			}
		})
	}
}

func TestInQuietHoursWrapsMidnight(t *testing.T) {
	t.Parallel()
	// 22..7 covers 22,23,0..6.
	inside := []int{22, 23, 0, 3, 6}
	outside := []int{7, 12, 21}
	for _, h := range inside {
		if !InQuietHours(intp(22), intp(7), h) {
			t.Fatalf("hour %d should be inside 22..7", h)
		}
	}
	for _, h := range outside {
		if InQuietHours(intp(22), intp(7), h) {
			t.Fatalf("hour %d should be outside 22..7", h)
		}
	}
}

func TestInQuietHoursDegenerate(t *testing.T) {
	t.Parallel()
	for h := 0; h < 24; h++ {
		if InQuietHours(nil, nil, h) {
			t.Fatalf("nil window matched hour %d", h)
		}
		if InQuietHours(intp(5), nil, h) {
			t.Fatalf("half-open window matched hour %d", h)
		}
		if InQuietHours(intp(8), intp(8), h) {
			t.Fatalf("empty window matched hour %d", h)
		}
	}
}

// Rotating the window and the hour by the same offset must not change
// membership; the window is a circle, not a line.
func TestInQuietHoursRotationInvariant(t *testing.T) {
	t.Parallel()
	for start := 0; start < 24; start++ {
		for end := 0; end < 24; end++ {
			for h := 0; h < 24; h++ {
				base := InQuietHours(intp(start), intp(end), h)
				for off := 1; off < 24; off += 7 {
					rs, re, rh := (start+off)%24, (end+off)%24, (h+off)%24
					if got := InQuietHours(intp(rs), intp(re), rh); got != base {
						t.Fatalf("rotation broke membership: (%d,%d,%d)=%v but (%d,%d,%d)=%v",
							start, end, h, base, rs, re, rh, got)
					}
				}
			}
		}
	}
}

func TestEvaluateOrder(t *testing.T) {
	t.Parallel()
	table := DefaultTable()
	prefs := notify.DefaultPreferences("u1")
	prefs.Enabled[notify.CategoryMealReminder] = false
	prefs.QuietStart, prefs.QuietEnd = intp(22), intp(7)
	prefs.MaxPerHour = 1

	// Disabled wins over everything, even inside quiet hours at the cap.
	d := table.Evaluate(notify.CategoryMealReminder, prefs, 23, 5)
	if d.Allowed || d.Reason != notify.ReasonDisabled {
		t.Fatalf("disabled category: got %+v", d)
	}

	// Quiet hours next.
	d = table.Evaluate(notify.CategoryStockLow, prefs, 23, 0)
	if d.Allowed || d.Reason != notify.ReasonQuietHours {
		t.Fatalf("quiet hours: got %+v", d)
	}

	// Rate limit last.
	d = table.Evaluate(notify.CategoryStockLow, prefs, 12, 1)
	if d.Allowed || d.Reason != notify.ReasonRateLimited {
		t.Fatalf("rate limit: got %+v", d)
	}

	// Under the cap, outside quiet hours: allowed.
	d = table.Evaluate(notify.CategoryStockLow, prefs, 12, 0)
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestCriticalOverridesQuietHoursOnly(t *testing.T) {
	t.Parallel()
	table := DefaultTable()
	prefs := notify.DefaultPreferences("u1")
	prefs.QuietStart, prefs.QuietEnd = intp(22), intp(7)
	prefs.MaxPerHour = 2

	// Critical categories punch through the window...
	d := table.Evaluate(notify.CategoryExpiryCritical, prefs, 23, 0)
	if !d.Allowed {
		t.Fatalf("critical during quiet hours: got %+v", d)
	}
	d = table.Evaluate(notify.CategoryStockCritical, prefs, 2, 0)
	if !d.Allowed {
		t.Fatalf("critical during quiet hours: got %+v", d)
	}

	// ...but not through the rate limit or a disabled toggle.
	d = table.Evaluate(notify.CategoryStockCritical, prefs, 2, 2)
	if d.Allowed || d.Reason != notify.ReasonRateLimited {
		t.Fatalf("critical at cap: got %+v", d)
	}
	prefs.Enabled[notify.CategoryStockCritical] = false
	d = table.Evaluate(notify.CategoryStockCritical, prefs, 2, 0)
	if d.Allowed || d.Reason != notify.ReasonDisabled {
		t.Fatalf("critical disabled: got %+v", d)
	}
}

func TestNewTableOverrides(t *testing.T) {
	t.Parallel()
	table := NewTable([]string{"meal_reminder", "bogus_category"})
	prefs := notify.DefaultPreferences("u1")
	prefs.QuietStart, prefs.QuietEnd = intp(22), intp(7)

	if d := table.Evaluate(notify.CategoryMealReminder, prefs, 23, 0); !d.Allowed {
		t.Fatalf("override category blocked: %+v", d)
	}
	// Replacing the table drops the defaults.
	if d := table.Evaluate(notify.CategoryStockCritical, prefs, 23, 0); d.Allowed {
		t.Fatalf("stock_critical should no longer override: %+v", d)
	}
}

func TestEvaluateClampsMaxPerHour(t *testing.T) {
	t.Parallel()
	table := DefaultTable()
	prefs := notify.DefaultPreferences("u1")
	prefs.MaxPerHour = 0 // invalid; treated as 1

	if d := table.Evaluate(notify.CategoryStockLow, prefs, 12, 0); !d.Allowed {
		t.Fatalf("first send under clamped cap denied: %+v", d)
	}
	if d := table.Evaluate(notify.CategoryStockLow, prefs, 12, 1); d.Allowed {
		t.Fatalf("second send should hit the clamped cap")
	}
}

func TestUnknownCategoryDefaultsEnabled(t *testing.T) {
	t.Parallel()
	table := DefaultTable()
	prefs := notify.Preferences{RecipientID: "u1", Enabled: map[notify.Category]bool{}, MaxPerHour: 5}
	if d := table.Evaluate(notify.CategoryTaskOverdue, prefs, 12, 0); !d.Allowed {
		t.Fatalf("category missing from toggles should pass: %+v", d)
	}
}

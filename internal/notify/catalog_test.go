package notify

import (
	"strings"
	"testing"
	"time"
)

func TestDedupKeyDeterministic(t *testing.T) {
	t.Parallel()
	a := DedupKey("fam-1", CategoryStockLow, "Whole  Milk")
	b := DedupKey("fam-1", CategoryStockLow, "  whole milk ")
	if a != b {
		t.Fatalf("same subject produced different keys: %q vs %q", a, b)
	}
	if a != "fam-1|stock_bas|whole-milk" {
		t.Fatalf("unexpected key shape: %q", a)
	}
	if DedupKey("fam-2", CategoryStockLow, "Whole Milk") == a {
		t.Fatal("different recipients must not collide")
	}
	if DedupKey("fam-1", CategoryStockCritical, "Whole Milk") == a {
		t.Fatal("different categories must not collide")
	}
}

func TestStockAlertThresholds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		qty, min float64
		ok       bool
		cat      Category
		prio     int
	}{
		{"at minimum", 2, 2, false, "", 0},
		{"above minimum", 3, 2, false, "", 0},
		{"low", 1.5, 2, true, CategoryStockLow, PriorityNormal},
		{"just under half", 0.99, 2, true, CategoryStockCritical, PriorityCritical},
		{"exactly half is low", 1, 2, true, CategoryStockLow, PriorityNormal},
		{"zero left", 0, 2, true, CategoryStockCritical, PriorityCritical},
		{"no minimum set", 0, 0, false, "", 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			n, ok := StockAlert("fam-1", "Milk", tt.qty, tt.min)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if n.Category != tt.cat {
				t.Fatalf("category = %s, want %s", n.Category, tt.cat)
			}
			if n.Priority != tt.prio {
				t.Fatalf("priority = %d, want %d", n.Priority, tt.prio)
			}
			if n.DedupKey != DedupKey("fam-1", tt.cat, "Milk") {
				t.Fatalf("dedup key mismatch: %q", n.DedupKey)
			}
		})
	}
}

func TestStockAlertQuantityFormatting(t *testing.T) {
	t.Parallel()
	n, ok := StockAlert("fam-1", "Milk", 0.5, 2)
	if !ok {
		t.Fatal("expected an alert")
	}
	if !strings.Contains(n.Body, "0.5 left") {
		t.Fatalf("trailing zeros should be trimmed: %q", n.Body)
	}
	n, _ = StockAlert("fam-1", "Eggs", 1, 6)
	if !strings.Contains(n.Body, "1 left") {
		t.Fatalf("whole numbers should have no decimal point: %q", n.Body)
	}
}

func TestExpiryAlertPhrasing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		daysLeft int
		cat      Category
		title    string
	}{
		{"expired today", 0, CategoryExpiryCritical, "Yogurt has expired"},
		{"long expired", -3, CategoryExpiryCritical, "Yogurt has expired"},
		{"tomorrow", 1, CategoryExpiryCritical, "Yogurt expires tomorrow"},
		{"in two days", 2, CategoryExpiryAlert, "Yogurt expires in 2 days"},
		{"in a week", 7, CategoryExpiryAlert, "Yogurt expires in 7 days"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			n := ExpiryAlert("fam-1", "Yogurt", tt.daysLeft)
			if n.Category != tt.cat {
				t.Fatalf("category = %s, want %s", n.Category, tt.cat)
			}
			if n.Title != tt.title {
				t.Fatalf("title = %q, want %q", n.Title, tt.title)
			}
		})
	}
}

func TestExpiryAlertDedupSurvivesCountdown(t *testing.T) {
	t.Parallel()
	// 5 and 3 days out share a category, so the key stays stable and an
	// unread alert suppresses the next poll's copy.
	if ExpiryAlert("fam-1", "Yogurt", 5).DedupKey != ExpiryAlert("fam-1", "Yogurt", 3).DedupKey {
		t.Fatal("same-category countdown should keep one dedup key")
	}
	// Crossing into critical changes the category, which is a new key: the
	// escalation is allowed to notify again.
	if ExpiryAlert("fam-1", "Yogurt", 3).DedupKey == ExpiryAlert("fam-1", "Yogurt", 1).DedupKey {
		t.Fatal("escalation to critical should mint a new dedup key")
	}
}

func TestTaskOverdueCarriesDueDate(t *testing.T) {
	t.Parallel()
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	n := TaskOverdue("fam-1", "Clean filter", due)
	if n.Category != CategoryTaskOverdue {
		t.Fatalf("category = %s", n.Category)
	}
	if !strings.Contains(n.Body, "10 Mar") {
		t.Fatalf("body should mention the due date: %q", n.Body)
	}
}

func TestDailyDigest(t *testing.T) {
	t.Parallel()
	day := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

	n := DailyDigest("fam-1", day, DigestCounts{OverdueTasks: 2, DueToday: 1, UrgentItems: 1})
	if n.Category != CategoryDailyDigest {
		t.Fatalf("category = %s", n.Category)
	}
	if n.Body != "Pending: 2 overdue tasks, 1 due today, 1 urgent shopping item." {
		t.Fatalf("body = %q", n.Body)
	}
	if n.DedupKey != DedupKey("fam-1", CategoryDailyDigest, "2026-03-10") {
		t.Fatalf("dedup key = %q", n.DedupKey)
	}

	// Same day, same key: at most one digest per recipient per day.
	later := day.Add(2 * time.Hour)
	if DailyDigest("fam-1", later, DigestCounts{DueToday: 3}).DedupKey != n.DedupKey {
		t.Fatal("digest key must be day-scoped, not time-scoped")
	}

	empty := DailyDigest("fam-1", day, DigestCounts{})
	if empty.Body != "Nothing pending today." {
		t.Fatalf("empty digest body = %q", empty.Body)
	}
}

func TestDigestCountsTotal(t *testing.T) {
	t.Parallel()
	c := DigestCounts{OverdueTasks: 2, DueToday: 3, UrgentItems: 1}
	if c.Total() != 6 {
		t.Fatalf("Total = %d", c.Total())
	}
	if (DigestCounts{}).Total() != 0 {
		t.Fatal("zero counts should total zero")
	}
}

func TestDefaultPreferences(t *testing.T) {
	t.Parallel()
	p := DefaultPreferences("fam-1")
	for _, c := range Categories() {
		if !p.CategoryEnabled(c) {
			t.Fatalf("category %s should default on", c)
		}
	}
	if p.QuietStart != nil || p.QuietEnd != nil {
		t.Fatal("no quiet hours by default")
	}
	if p.MaxPerHour != 10 {
		t.Fatalf("MaxPerHour = %d", p.MaxPerHour)
	}
}

func TestCategoryValid(t *testing.T) {
	t.Parallel()
	for _, c := range Categories() {
		if !c.Valid() {
			t.Fatalf("%s should be valid", c)
		}
	}
	if Category("bogus").Valid() {
		t.Fatal("bogus should be invalid")
	}
}

package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"hearth/internal/channel"
	"hearth/internal/dispatch"
	"hearth/internal/notify"
	"hearth/internal/policy"
	"hearth/internal/storage"
	"hearth/internal/throttle"
	"hearth/pkg/logx"
)

// staticSource answers fact queries from fixed slices.
type staticSource struct {
	overdue  []TaskFact
	dueToday []TaskFact
	urgent   []ItemFact
	err      error
}

func (s staticSource) OverdueTasks(context.Context, time.Time) ([]TaskFact, error) {
	return s.overdue, s.err
}

func (s staticSource) TasksDueToday(context.Context, time.Time) ([]TaskFact, error) {
	return s.dueToday, s.err
}

func (s staticSource) UrgentUnpurchased(context.Context) ([]ItemFact, error) {
	return s.urgent, s.err
}

func newTestScheduler(t *testing.T, src staticSource) (*Service, *storage.Store) {
	t.Helper()
	store := storage.NewStore(storage.NewMemory(), logx.Nop())
	local := channel.NewLocal(100, store)
	disp := dispatch.New(dispatch.Config{Workers: 2, QueueSize: 32, RatePerSec: 1000, SendTimeout: time.Second},
		store, throttle.NewMemory(), policy.DefaultTable(), []channel.Sender{local}, logx.Nop(), nil)
	disp.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		disp.Stop(ctx)
	})

	sched := New(Config{Enabled: true, TickInterval: time.Hour, DigestAt: "18:00", Workers: 2, TickTimeout: 5 * time.Second},
		disp, store, src, src, logx.Nop(), nil)
	return sched, store
}

// inboxList reads the recipient's in-app list from the shared store.
func inboxList(t *testing.T, store *storage.Store, recipient string) []notify.Notification {
	t.Helper()
	list, err := store.ListNotifications(context.Background(), recipient, 0)
	if err != nil {
		t.Fatal(err)
	}
	return list
}

func TestRunTick(t *testing.T) {
	t.Parallel()
	due := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	sched, store := newTestScheduler(t, staticSource{
		overdue:  []TaskFact{{RecipientID: "fam-1", Name: "Clean filter", Due: due}},
		dueToday: []TaskFact{{RecipientID: "fam-1", Name: "Water plants"}},
		urgent:   []ItemFact{{RecipientID: "fam-2", Name: "Diapers"}},
	})

	results, err := sched.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if !r.Success {
			t.Fatalf("result %d failed: %+v", i, r)
		}
	}
	if got := len(inboxList(t, store, "fam-1")); got != 2 {
		t.Fatalf("fam-1 list length = %d, want 2", got)
	}
	if got := len(inboxList(t, store, "fam-2")); got != 1 {
		t.Fatalf("fam-2 list length = %d, want 1", got)
	}
}

func TestRunTickIsIdempotentAcrossPolls(t *testing.T) {
	t.Parallel()
	src := staticSource{
		overdue: []TaskFact{{RecipientID: "fam-1", Name: "Clean filter", Due: time.Now().AddDate(0, 0, -2)}},
	}
	sched, store := newTestScheduler(t, src)
	ctx := context.Background()

	if _, err := sched.RunTick(ctx); err != nil {
		t.Fatal(err)
	}
	// The condition persists into the next poll; the unread dedup key
	// suppresses a second copy.
	results, err := sched.RunTick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].Denied || results[0].Reason != notify.ReasonDuplicate {
		t.Fatalf("second poll should be deduplicated: %+v", results)
	}
	if got := len(inboxList(t, store, "fam-1")); got != 1 {
		t.Fatalf("list length = %d, want 1", got)
	}
}

func TestRunTickSkipsDigestRecipients(t *testing.T) {
	t.Parallel()
	sched, store := newTestScheduler(t, staticSource{
		dueToday: []TaskFact{
			{RecipientID: "fam-1", Name: "Water plants"},
			{RecipientID: "fam-2", Name: "Take out trash"},
		},
	})
	ctx := context.Background()

	prefs := notify.DefaultPreferences("fam-2")
	prefs.DigestMode = true
	if err := store.PutPreferences(ctx, prefs); err != nil {
		t.Fatal(err)
	}

	results, err := sched.RunTick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("digest-mode recipient should be skipped: %d results", len(results))
	}
	if len(inboxList(t, store, "fam-2")) != 0 {
		t.Fatal("digest-mode recipient got a per-item notification")
	}
	if len(inboxList(t, store, "fam-1")) != 1 {
		t.Fatal("per-item recipient should be served")
	}
}

func TestRunDigest(t *testing.T) {
	t.Parallel()
	sched, store := newTestScheduler(t, staticSource{
		overdue: []TaskFact{
			{RecipientID: "fam-1", Name: "a"},
			{RecipientID: "fam-1", Name: "b"},
		},
		dueToday: []TaskFact{{RecipientID: "fam-1", Name: "c"}},
		urgent: []ItemFact{
			{RecipientID: "fam-1", Name: "d"},
			{RecipientID: "fam-2", Name: "e"},
		},
	})
	ctx := context.Background()

	// fam-1 wants the digest; fam-2 stays per-item and gets nothing here.
	prefs := notify.DefaultPreferences("fam-1")
	prefs.DigestMode = true
	if err := store.PutPreferences(ctx, prefs); err != nil {
		t.Fatal(err)
	}

	results, err := sched.RunDigest(ctx)
	if err != nil {
		t.Fatalf("RunDigest: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Success {
		t.Fatalf("digest failed: %+v", results[0])
	}

	list := inboxList(t, store, "fam-1")
	if len(list) != 1 {
		t.Fatalf("fam-1 should get exactly one digest, got %d", len(list))
	}
	n := list[0]
	if n.Category != notify.CategoryDailyDigest {
		t.Fatalf("category = %s", n.Category)
	}
	if n.Body != "Pending: 2 overdue tasks, 1 due today, 1 urgent shopping item." {
		t.Fatalf("body = %q", n.Body)
	}
	if len(inboxList(t, store, "fam-2")) != 0 {
		t.Fatal("per-item recipient must not receive a digest")
	}
}

func TestRunDigestNothingPending(t *testing.T) {
	t.Parallel()
	sched, store := newTestScheduler(t, staticSource{})
	ctx := context.Background()

	prefs := notify.DefaultPreferences("fam-1")
	prefs.DigestMode = true
	if err := store.PutPreferences(ctx, prefs); err != nil {
		t.Fatal(err)
	}

	results, err := sched.RunDigest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("no facts, no digest: %+v", results)
	}
}

func TestRunTickSourceError(t *testing.T) {
	t.Parallel()
	sched, _ := newTestScheduler(t, staticSource{err: errors.New("backend down")})
	if _, err := sched.RunTick(context.Background()); err == nil {
		t.Fatal("source failure should surface")
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	t.Parallel()
	sched, _ := newTestScheduler(t, staticSource{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sched.State() != StateIdle {
		t.Fatalf("initial state = %s", sched.State())
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sched.State() != StateRunning {
		t.Fatalf("state after start = %s", sched.State())
	}
	// Idempotent.
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	sched.Stop(stopCtx)
	if sched.State() != StateStopped {
		t.Fatalf("state after stop = %s", sched.State())
	}

	// Stopped is terminal.
	if err := sched.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("restart should fail with ErrStopped, got %v", err)
	}
	if _, err := sched.RunTick(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("tick after stop should fail, got %v", err)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("18:05")
	if err != nil || h != 18 || m != 5 {
		t.Fatalf("parseHHMM = %d:%d, %v", h, m, err)
	}
	for _, bad := range []string{"", "25:00", "12:60", "noon", "7"} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Fatalf("parseHHMM(%q) should fail", bad)
		}
	}
}

func TestDisabledSchedulerDoesNotStart(t *testing.T) {
	t.Parallel()
	store := storage.NewStore(storage.NewMemory(), logx.Nop())
	disp := dispatch.New(dispatch.Config{}, store, throttle.NewMemory(), policy.DefaultTable(), nil, logx.Nop(), nil)
	sched := New(Config{Enabled: false}, disp, store, NopSource{}, NopSource{}, logx.Nop(), nil)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start should be a no-op: %v", err)
	}
	if sched.State() != StateIdle {
		t.Fatalf("disabled scheduler should stay idle, got %s", sched.State())
	}
}

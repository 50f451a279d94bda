// Package schedule polls collaborating domain services on a timer and turns
// overdue or urgent facts into notifications via the catalog.
//
// The recurring loop is cron-driven. RunTick and RunDigest are also callable
// synchronously, for tests or an external cron trigger.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hearth/internal/dispatch"
	"hearth/internal/eventbus"
	"hearth/internal/notify"
	"hearth/internal/storage"
	"hearth/pkg/logx"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped // terminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var ErrStopped = errors.New("scheduler stopped")

type Config struct {
	Enabled      bool
	TickInterval time.Duration // recurring poll cadence
	DigestAt     string        // "HH:MM" local time for the daily digest
	Workers      int           // bounded pool for per-item dispatch in a tick
	TickTimeout  time.Duration // bound for one whole tick
	Timezone     string        // IANA TZ; empty means local
}

// Service drives the polling loop.
type Service struct {
	mu    sync.Mutex
	state State

	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	store    *storage.Store
	disp     *dispatch.Service
	tasks    TaskSource
	shopping ShoppingSource

	c   *cron.Cron
	now func() time.Time
}

func New(cfg Config, disp *dispatch.Service, store *storage.Store,
	tasks TaskSource, shopping ShoppingSource, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 15 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = time.Minute
	}
	if cfg.DigestAt == "" {
		cfg.DigestAt = "18:00"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		disp:     disp,
		tasks:    tasks,
		shopping: shopping,
		now:      time.Now,
	}
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the recurring loop. Starting a stopped scheduler is an error:
// Stopped is terminal.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrStopped
	}
	if !s.cfg.Enabled {
		return nil
	}

	loc := s.location()
	c := cron.New(cron.WithLocation(loc))

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.TickInterval), func() {
		tctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
		if _, err := s.RunTick(tctx); err != nil && !errors.Is(err, ErrStopped) {
			s.log.Warn("tick failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}

	h, m, err := parseHHMM(s.cfg.DigestAt)
	if err != nil {
		return fmt.Errorf("digest_at: %w", err)
	}
	if _, err := c.AddFunc(fmt.Sprintf("%d %d * * *", m, h), func() {
		tctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
		if _, err := s.RunDigest(tctx); err != nil && !errors.Is(err, ErrStopped) {
			s.log.Warn("digest failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}

	s.c = c
	c.Start()
	s.state = StateRunning
	s.log.Info("scheduler started",
		logx.Duration("interval", s.cfg.TickInterval),
		logx.String("digest_at", s.cfg.DigestAt),
		logx.String("tz", loc.String()))
	return nil
}

// Stop prevents the next tick from starting and waits for an in-flight tick
// no longer than that tick's own timeout. Terminal.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	already := s.state == StateStopped
	s.state = StateStopped
	s.mu.Unlock()
	if already || c == nil {
		return
	}

	// cron's stop context completes when in-flight jobs return; each job is
	// bounded by TickTimeout, so this wait is too.
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// RunTick performs one synchronous poll: every overdue task, due-today task
// and urgent unpurchased item becomes a notification, dispatched through a
// bounded worker pool so one slow recipient cannot stall the rest.
// Recipients in digest mode are skipped; the daily digest covers them.
func (s *Service) RunTick(ctx context.Context) ([]notify.DispatchResult, error) {
	if s.State() == StateStopped {
		return nil, ErrStopped
	}
	start := s.now()

	drafts, err := s.collectDrafts(ctx)
	if err != nil {
		return nil, err
	}

	results := s.dispatchAll(ctx, drafts)

	delivered := 0
	for _, r := range results {
		if r.Success {
			delivered++
		}
	}
	s.publishTick(false, len(drafts), delivered, time.Since(start))
	return results, nil
}

// RunDigest sends one summary notification per digest-mode recipient with
// pending facts, instead of one notification per item.
func (s *Service) RunDigest(ctx context.Context) ([]notify.DispatchResult, error) {
	if s.State() == StateStopped {
		return nil, ErrStopped
	}
	start := s.now()

	overdue, dueToday, urgent, err := s.queryFacts(ctx)
	if err != nil {
		return nil, err
	}

	counts := map[string]*notify.DigestCounts{}
	bump := func(recipient string) *notify.DigestCounts {
		c, ok := counts[recipient]
		if !ok {
			c = &notify.DigestCounts{}
			counts[recipient] = c
		}
		return c
	}
	for _, f := range overdue {
		bump(f.RecipientID).OverdueTasks++
	}
	for _, f := range dueToday {
		bump(f.RecipientID).DueToday++
	}
	for _, f := range urgent {
		bump(f.RecipientID).UrgentItems++
	}

	day := s.now()
	var drafts []notify.Notification
	for recipient, c := range counts {
		if c.Total() == 0 {
			continue
		}
		prefs, err := s.store.Preferences(ctx, recipient)
		if err != nil {
			s.log.Warn("digest preferences lookup failed", logx.Err(err), logx.String("recipient", recipient))
			continue
		}
		if !prefs.DigestMode {
			continue
		}
		drafts = append(drafts, notify.DailyDigest(recipient, day, *c))
	}

	results := s.dispatchAll(ctx, drafts)

	delivered := 0
	for _, r := range results {
		if r.Success {
			delivered++
		}
	}
	s.publishTick(true, len(drafts), delivered, time.Since(start))
	return results, nil
}

func (s *Service) queryFacts(ctx context.Context) (overdue, dueToday []TaskFact, urgent []ItemFact, err error) {
	now := s.now()
	overdue, err = s.tasks.OverdueTasks(ctx, now)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("overdue tasks: %w", err)
	}
	dueToday, err = s.tasks.TasksDueToday(ctx, now)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tasks due today: %w", err)
	}
	urgent, err = s.shopping.UrgentUnpurchased(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("urgent items: %w", err)
	}
	return overdue, dueToday, urgent, nil
}

func (s *Service) collectDrafts(ctx context.Context) ([]notify.Notification, error) {
	overdue, dueToday, urgent, err := s.queryFacts(ctx)
	if err != nil {
		return nil, err
	}

	digestMode := map[string]bool{}
	inDigest := func(recipient string) bool {
		if v, ok := digestMode[recipient]; ok {
			return v
		}
		prefs, err := s.store.Preferences(ctx, recipient)
		if err != nil {
			s.log.Warn("preferences lookup failed, assuming per-item", logx.Err(err), logx.String("recipient", recipient))
			digestMode[recipient] = false
			return false
		}
		digestMode[recipient] = prefs.DigestMode
		return prefs.DigestMode
	}

	var drafts []notify.Notification
	for _, f := range overdue {
		if !inDigest(f.RecipientID) {
			drafts = append(drafts, notify.TaskOverdue(f.RecipientID, f.Name, f.Due))
		}
	}
	for _, f := range dueToday {
		if !inDigest(f.RecipientID) {
			drafts = append(drafts, notify.TaskDueToday(f.RecipientID, f.Name))
		}
	}
	for _, f := range urgent {
		if !inDigest(f.RecipientID) {
			drafts = append(drafts, notify.ShoppingUrgent(f.RecipientID, f.Name))
		}
	}
	return drafts, nil
}

// dispatchAll pushes drafts through the dispatcher with bounded parallelism
// and collects every result, in draft order.
func (s *Service) dispatchAll(ctx context.Context, drafts []notify.Notification) []notify.DispatchResult {
	if len(drafts) == 0 {
		return nil
	}
	results := make([]notify.DispatchResult, len(drafts))
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	for i, d := range drafts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, d notify.Notification) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := s.disp.Dispatch(ctx, d)
			if err != nil {
				res = notify.DispatchResult{Reason: err.Error()}
			}
			results[i] = res
		}(i, d)
	}
	wg.Wait()
	return results
}

func (s *Service) publishTick(digest bool, items, delivered int, took time.Duration) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Data: eventbus.TickEvent{
		Digest:    digest,
		Items:     items,
		Delivered: delivered,
		Took:      took,
	}})
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// Package dispatch orchestrates the send pipeline for one notification:
// dedup guard, policy decision, channel fan-out, throttle accounting.
//
// There is a single asynchronous pipeline (queue + worker pool). Submit
// enqueues and returns; Dispatch is a bounded blocking adapter over the same
// queue, so business logic exists exactly once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hearth/internal/channel"
	"hearth/internal/eventbus"
	"hearth/internal/notify"
	"hearth/internal/policy"
	"hearth/internal/storage"
	"hearth/internal/throttle"
	"hearth/pkg/logx"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  int           // global outbound rate across all channels
	SendTimeout time.Duration // per provider call
}

type job struct {
	n notify.Notification
	// ctx is the submitting caller's context; a blocking caller's deadline
	// abandons still-pending provider calls.
	ctx   context.Context
	reply chan notify.DispatchResult // nil for async submits
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	bus     eventbus.Bus
	store   *storage.Store
	counter throttle.Counter
	table   policy.Table
	senders []channel.Sender

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	workerWG  sync.WaitGroup

	queue    chan job
	stopDone chan struct{} // non-nil while stopping

	now func() time.Time
}

// New wires the dispatcher. Senders are panic-guarded here so a misbehaving
// channel can only ever produce a failed result.
func New(cfg Config, store *storage.Store, counter throttle.Counter, table policy.Table,
	senders []channel.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	guarded := make([]channel.Sender, 0, len(senders))
	for _, s := range senders {
		guarded = append(guarded, channel.Guard(s))
	}
	svc := &Service{
		log:     log,
		bus:     bus,
		store:   store,
		counter: counter,
		table:   table,
		senders: guarded,
		now:     time.Now,
	}
	svc.applyLocked(cfg)
	return svc
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Apply updates tunables at runtime (config hot reload). Queue and worker
// sizing apply on next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(ctx, q)
		}()
	}
}

// Stop blocks new work and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q := s.queue
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close so workers drain and exit.
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		s.workerWG.Wait()
		// Workers that exited on a canceled run leave queued jobs behind.
		s.drain(q)

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Submit enqueues a draft for asynchronous dispatch.
func (s *Service) Submit(ctx context.Context, n notify.Notification) error {
	return s.enqueue(ctx, n, nil)
}

// Dispatch runs the same pipeline but blocks for the result. The caller's
// deadline bounds the wait; on expiry any still-pending provider call is
// abandoned and surfaces as a failed result in the worker's log.
func (s *Service) Dispatch(ctx context.Context, n notify.Notification) (notify.DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	reply := make(chan notify.DispatchResult, 1)
	if err := s.enqueue(ctx, n, reply); err != nil {
		return notify.DispatchResult{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return notify.DispatchResult{}, ctx.Err()
	}
}

func (s *Service) enqueue(ctx context.Context, n notify.Notification, reply chan notify.DispatchResult) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{n: n, ctx: ctx, reply: reply}:
		s.publish(eventbus.TypeQueued, n, notify.DispatchResult{})
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(runCtx context.Context, q <-chan job) {
	for {
		if runCtx.Err() != nil {
			s.drain(q)
			return
		}
		select {
		case <-runCtx.Done():
			s.drain(q)
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			res := s.process(j)
			if j.reply != nil {
				j.reply <- res
			}
		}
	}
}

// drain answers whatever is still queued when a run is canceled, so a
// blocking Dispatch caller is released instead of waiting on a reply that
// will never come.
func (s *Service) drain(q <-chan job) {
	for {
		select {
		case j, ok := <-q:
			if !ok {
				return
			}
			res := s.failed(j.n, "", "dispatcher stopped")
			if j.reply != nil {
				j.reply <- res
			}
		default:
			return
		}
	}
}

// process is the single dispatch pipeline.
func (s *Service) process(j job) notify.DispatchResult {
	ctx := j.ctx
	if ctx == nil || ctx.Err() != nil {
		// Async submits outlive their caller; blocking callers that already
		// gave up still get the work finished under a fresh context.
		ctx = context.Background()
	}
	n := j.n
	now := s.now()

	// 1. Dedup guard: one unread notification per (recipient, dedup key).
	if n.DedupKey != "" {
		existing, found, err := s.store.UnreadByDedupKey(ctx, n.RecipientID, n.DedupKey)
		if err != nil {
			return s.failed(n, "", fmt.Sprintf("dedup lookup: %v", err))
		}
		if found {
			res := notify.DispatchResult{
				Denied:         true,
				Reason:         notify.ReasonDuplicate,
				NotificationID: existing.ID,
			}
			s.publish(eventbus.TypeDeduped, n, res)
			return res
		}
	}

	// 2. Policy decision from preferences + current throttle bucket.
	prefs, err := s.store.Preferences(ctx, n.RecipientID)
	if err != nil {
		return s.failed(n, "", fmt.Sprintf("load preferences: %v", err))
	}
	count, err := s.counter.Count(ctx, n.RecipientID, now)
	if err != nil {
		return s.failed(n, "", fmt.Sprintf("throttle count: %v", err))
	}
	decision := s.table.Evaluate(n.Category, prefs, now.Hour(), count)
	if !decision.Allowed {
		res := notify.DispatchResult{Denied: true, Reason: decision.Reason}
		s.publish(eventbus.TypeDenied, n, res)
		s.log.Debug("dispatch denied",
			logx.String("recipient", n.RecipientID),
			logx.String("category", string(n.Category)),
			logx.String("reason", decision.Reason))
		return res
	}

	// 3. Fan out. Global outbound rate limit, then every channel.
	s.mu.Lock()
	lim := s.limiter
	senders := s.senders
	sendTimeout := s.cfg.SendTimeout
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return s.failed(n, "", fmt.Sprintf("abandoned: %v", err))
	}

	if n.ID == "" {
		n.ID = notify.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	var (
		firstOK  string
		failures []string
	)
	for _, sender := range senders {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		res := sender.Send(sctx, n)
		cancel()
		if res.Success {
			if firstOK == "" {
				firstOK = res.Channel
			}
			continue
		}
		failures = append(failures, res.Channel+": "+res.Reason)
	}

	// 4. Aggregate: success if at least one channel delivered.
	if firstOK == "" {
		reason := "no channels configured"
		if len(failures) > 0 {
			reason = strings.Join(failures, "; ")
		}
		return s.failed(n, "", reason)
	}

	if _, err := s.counter.Increment(ctx, n.RecipientID, now); err != nil {
		s.log.Warn("throttle increment failed", logx.Err(err), logx.String("recipient", n.RecipientID))
	}
	n.Sent = true
	if err := s.store.SaveNotification(ctx, n); err != nil {
		s.log.Warn("persist after send failed", logx.Err(err), logx.String("id", n.ID))
	}

	res := notify.DispatchResult{Success: true, Channel: firstOK, NotificationID: n.ID}
	if len(failures) > 0 {
		res.Reason = "partial: " + strings.Join(failures, "; ")
	}
	s.publish(eventbus.TypeSent, n, res)
	return res
}

func (s *Service) failed(n notify.Notification, channelName, reason string) notify.DispatchResult {
	res := notify.DispatchResult{Channel: channelName, Reason: reason, NotificationID: n.ID}
	s.publish(eventbus.TypeFailed, n, res)
	s.log.Debug("dispatch failed",
		logx.String("recipient", n.RecipientID),
		logx.String("category", string(n.Category)),
		logx.String("reason", reason))
	return res
}

func (s *Service) publish(eventType string, n notify.Notification, res notify.DispatchResult) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: eventType, Time: now, Data: eventbus.DispatchEvent{
		RecipientID:    n.RecipientID,
		Category:       string(n.Category),
		DedupKey:       n.DedupKey,
		NotificationID: res.NotificationID,
		Channel:        res.Channel,
		Reason:         res.Reason,
		At:             now,
	}})
}

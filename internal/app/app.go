// Package app assembles the engine: config, logging, storage, throttle,
// policy, channels, dispatcher, scheduler and the HTTP surface, in that
// order, and tears them down in reverse.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"hearth/internal/api"
	"hearth/internal/channel"
	"hearth/internal/config"
	"hearth/internal/dispatch"
	"hearth/internal/eventbus"
	"hearth/internal/notify"
	"hearth/internal/policy"
	"hearth/internal/schedule"
	"hearth/internal/storage"
	"hearth/internal/throttle"
	"hearth/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store *storage.Store
	rdb   redis.UniversalClient

	disp  *dispatch.Service
	sched *schedule.Service
	api   *api.Server

	cancel context.CancelFunc
}

// Options are the pieces the host process may swap before Start. Zero
// values pick the built-in defaults.
type Options struct {
	// Tasks and Shopping feed the scheduler's polling tick. Nil means the
	// engine runs without domain facts (manual dispatch and the HTTP
	// surface still work).
	Tasks    schedule.TaskSource
	Shopping schedule.ShoppingSource
}

// NewApp loads the config file, builds every component and leaves them
// stopped. Start wires them together.
func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("component", "app"))
	cfgm.SetLogger(log.With(logx.String("component", "config")))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	repo, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(repo, log)

	var counter throttle.Counter
	var rdb redis.UniversalClient
	if cfg.Redis != nil && len(cfg.Redis.Addrs) > 0 {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		counter = throttle.NewRedis(rdb)
		log.Info("throttle backend: redis")
	} else {
		counter = throttle.NewMemory()
	}

	senders, warnings, err := buildSenders(cfg, store, log)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn("channel disabled", logx.String("reason", w))
	}

	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		RatePerSec:  cfg.Dispatch.RatePerSec,
		SendTimeout: sendTimeout,
	}, store, counter, policy.NewTable(cfg.Policy.QuietHoursOverrides),
		senders, log.With(logx.String("component", "dispatch")), bus)

	tickInterval, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	tickTimeout, err := config.ParseDurationOrDefault("scheduler.tick_timeout", cfg.Scheduler.TickTimeout, time.Minute)
	if err != nil {
		return nil, err
	}
	var tasks schedule.TaskSource = schedule.NopSource{}
	var shopping schedule.ShoppingSource = schedule.NopSource{}
	if opts.Tasks != nil {
		tasks = opts.Tasks
	}
	if opts.Shopping != nil {
		shopping = opts.Shopping
	}
	sched := schedule.New(schedule.Config{
		Enabled:      cfg.Scheduler.Enabled,
		TickInterval: tickInterval,
		DigestAt:     cfg.Scheduler.DigestAt,
		Workers:      cfg.Scheduler.Workers,
		TickTimeout:  tickTimeout,
		Timezone:     cfg.Scheduler.Timezone,
	}, disp, store, tasks, shopping, log.With(logx.String("component", "scheduler")), bus)

	var ntfySender *channel.Ntfy
	for _, s := range senders {
		if n, ok := s.(*channel.Ntfy); ok {
			ntfySender = n
		}
	}
	apiSrv := api.New(api.Config{
		Enabled: cfg.API.Enabled,
		Addr:    cfg.API.Addr,
	}, store, ntfySender, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		rdb:     rdb,
		disp:    disp,
		sched:   sched,
		api:     apiSrv,
	}, nil
}

// Dispatcher exposes the pipeline for hosts that submit notifications
// directly (domain services embedding the engine).
func (a *App) Dispatcher() *dispatch.Service { return a.disp }

// Store exposes the preference and subscription store.
func (a *App) Store() *storage.Store { return a.store }

// Bus exposes lifecycle events for observers.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.disp.Start(ctx)
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	a.api.Start()

	// Hot reload: retune what can be retuned without a restart.
	go a.watchConfig(ctx)

	a.log.Info("engine started")
	return nil
}

func (a *App) watchConfig(ctx context.Context) {
	updates := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(updates)

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.apply(cfg)
		}
	}
}

// apply pushes reloadable settings into running services. Structural
// settings (storage driver, channel set, listen address) need a restart.
func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 5*time.Second)
	if err != nil {
		a.log.Warn("reload skipped dispatch tunables", logx.Err(err))
		return
	}
	a.disp.Apply(dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		RatePerSec:  cfg.Dispatch.RatePerSec,
		SendTimeout: sendTimeout,
	})
	a.log.Info("config reloaded")
}

// Stop drains in reverse start order: no new HTTP writes, no new ticks,
// then the pipeline flushes, then storage closes.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.api.Stop(ctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	a.sched.Stop(ctx)
	a.disp.Stop(ctx)
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis close", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// buildSenders constructs every configured channel. A channel whose config
// is incomplete is skipped with a warning instead of failing the boot; the
// local list is always on.
func buildSenders(cfg *config.Config, store *storage.Store, log logx.Logger) ([]channel.Sender, []string, error) {
	senders := []channel.Sender{channel.NewLocal(cfg.Channels.Local.CapPerRecipient, store)}
	var warnings []string

	if nc := cfg.Channels.Ntfy; nc != nil {
		timeout, err := config.ParseDurationOrDefault("channels.ntfy.timeout", nc.Timeout, 0)
		if err != nil {
			return nil, nil, err
		}
		s, err := channel.NewNtfy(channel.NtfyConfig{
			BaseURL:     nc.BaseURL,
			Topic:       nc.Topic,
			AccessToken: nc.AccessToken,
			Delay:       nc.Delay,
			Timeout:     timeout,
		}, nil, log)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ntfy: %v", err))
		} else {
			senders = append(senders, s)
		}
	}

	if wc := cfg.Channels.WebPush; wc != nil {
		ttl, err := config.ParseDurationOrDefault("channels.webpush.ttl", wc.TTL, 0)
		if err != nil {
			return nil, nil, err
		}
		timeout, err := config.ParseDurationOrDefault("channels.webpush.timeout", wc.Timeout, 0)
		if err != nil {
			return nil, nil, err
		}
		s, err := channel.NewWebPush(channel.WebPushConfig{
			VAPIDPublicKey:  wc.VAPIDPublicKey,
			VAPIDPrivateKey: wc.VAPIDPrivateKey,
			Subscriber:      wc.Subscriber,
			BadgeIcon:       wc.BadgeIcon,
			TTL:             ttl,
			Timeout:         timeout,
		}, store, log)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("webpush: %v", err))
		} else {
			senders = append(senders, s)
		}
	}

	if tc := cfg.Channels.Telegram; tc != nil {
		timeout, err := config.ParseDurationOrDefault("channels.telegram.timeout", tc.Timeout, 0)
		if err != nil {
			return nil, nil, err
		}
		s, err := channel.NewTelegram(channel.TelegramConfig{
			Token:   tc.Token,
			ChatID:  tc.ChatID,
			Timeout: timeout,
		}, log)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("telegram: %v", err))
		} else {
			senders = append(senders, s)
		}
	}

	return senders, warnings, nil
}

// validate rejects a config before it is committed on hot reload.
func validate(cfg *config.Config) error {
	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must be >= 0")
	}
	if cfg.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch.queue_size must be >= 0")
	}
	if _, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 0); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, 0); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	for _, raw := range cfg.Policy.QuietHoursOverrides {
		if !notify.Category(strings.TrimSpace(raw)).Valid() {
			return fmt.Errorf("policy.quiet_hours_overrides: unknown category %q", raw)
		}
	}
	return nil
}

// Package app wires the stream client, relay, registry, reminders, and the
// Telegram gateway into one supervised process.
package app

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pepitobot/internal/config"
	"pepitobot/internal/registry"
	"pepitobot/internal/relay"
	"pepitobot/internal/reminder"
	"pepitobot/internal/runtime/supervisor"
	"pepitobot/internal/store"
	"pepitobot/internal/stream"
	kit "pepitobot/internal/transport"
	telegram "pepitobot/internal/transport/telegram/adapter"
	"pepitobot/internal/transport/telegram/router"
	logx "pepitobot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   store.Store
	reg     *registry.Service
	engine  *relay.Engine
	disp    *relay.Dispatcher
	client  *stream.Client
	remind  *reminder.Service
	rtr     *router.Router

	updates chan kit.Update
	events  chan stream.Event
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New() calls Apply() immediately. If Telegram logging is enabled
	// but the target chat isn't set yet, Apply() would warn; bootstrap with
	// the sink disabled, set the target, then Apply() the final config.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if chatID, ok := parseGroupLog(cfg.Telegram.GroupLog); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(mapLogConfig(cfg))

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	reg := registry.New(st, log.With(logx.String("comp", "registry")))

	engine, err := relay.NewEngine(relay.Config{
		Timezone:   cfg.Relay.Timezone,
		RatePerSec: cfg.Relay.RatePerSec,
		RetryMax:   cfg.Relay.RetryMax,
	}, ad, reg, log.With(logx.String("comp", "relay")))
	if err != nil {
		return nil, err
	}

	streamCfg, err := mapStreamConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := stream.New(streamCfg, log.With(logx.String("comp", "stream")))
	if err != nil {
		return nil, err
	}

	remind := reminder.New(reminder.Config{
		Enabled: cfg.Reminder.Enabled,
		Every:   cfg.Reminder.Every,
	}, ad, reg, st, log.With(logx.String("comp", "reminder")))

	rtr := router.New(ad, reg, engine, cfg.Telegram.OwnerUserIDs,
		log.With(logx.String("comp", "router")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   st,
		reg:     reg,
		engine:  engine,
		disp:    relay.NewDispatcher(engine, log.With(logx.String("comp", "dispatch"))),
		client:  client,
		remind:  remind,
		rtr:     rtr,
		updates: make(chan kit.Update, 256),
		events:  make(chan stream.Event, 16),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("stream.run", func(c context.Context) error {
		return a.client.Run(c, a.events)
	})
	a.sup.Go("relay.dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.events)
	})
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.rtr.DispatchLoop(c, a.updates)
	})

	if err := a.remind.Start(a.sup.Context()); err != nil {
		return err
	}

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload applies what can change live (logging, owners) and calls out
// the sections that need a restart.
func (a *App) applyReload(old, cfg *config.Config) {
	if old != nil {
		if !reflect.DeepEqual(old.Store, cfg.Store) {
			a.log.Warn("store config changed; restart required for changes to take effect")
		}
		if !reflect.DeepEqual(old.Stream, cfg.Stream) {
			a.log.Warn("stream config changed; restart required for changes to take effect")
		}
		if !reflect.DeepEqual(old.Relay, cfg.Relay) || !reflect.DeepEqual(old.Reminder, cfg.Reminder) {
			a.log.Warn("relay/reminder config changed; restart required for changes to take effect")
		}
	}

	// update log target first so Apply() doesn't warn with the sink enabled
	if chatID, ok := parseGroupLog(cfg.Telegram.GroupLog); ok {
		a.logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(cfg))

	a.rtr.SetOwners(cfg.Telegram.OwnerUserIDs)

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("reminder", 2*time.Second, func(context.Context) error { a.remind.Stop(); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("store", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func validateConfig(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Stream.URL) == "" {
		return fmt.Errorf("stream.url is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("stream.backoff", cfg.Stream.Backoff); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("stream.idle_timeout", cfg.Stream.IdleTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Relay.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("relay.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Relay.RatePerSec < 0 {
		return fmt.Errorf("relay.rate_per_sec must be >= 0")
	}
	if cfg.Relay.RetryMax < 0 {
		return fmt.Errorf("relay.retry_max must be >= 0")
	}
	if spec := strings.TrimSpace(cfg.Reminder.Every); spec != "" {
		p := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := p.Parse(spec); err != nil {
			return fmt.Errorf("reminder.every: invalid %q: %w", spec, err)
		}
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func parseGroupLog(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return chatID, true
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:       cfg.Store.Driver,
		ChannelsPath: cfg.Store.ChannelsPath,
		ReminderPath: cfg.Store.ReminderPath,
		Path:         cfg.Store.Path,
		BusyTimeout:  busy,
	}, nil
}

func mapStreamConfig(cfg *config.Config) (stream.Config, error) {
	backoff, err := config.ParseDurationOrDefault("stream.backoff", cfg.Stream.Backoff, 5*time.Second)
	if err != nil {
		return stream.Config{}, err
	}
	// "0s" disables the idle check; only an omitted field gets the default.
	idle := 90 * time.Second
	if strings.TrimSpace(cfg.Stream.IdleTimeout) != "" {
		idle, err = config.ParseDurationField("stream.idle_timeout", cfg.Stream.IdleTimeout)
		if err != nil {
			return stream.Config{}, err
		}
	}
	return stream.Config{
		URL:         cfg.Stream.URL,
		Backoff:     backoff,
		IdleTimeout: idle,
	}, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"castbot/internal/campaign"
	"castbot/internal/config"
	"castbot/internal/dispatch"
	"castbot/internal/eventbus"
	"castbot/internal/eventsink"
	"castbot/internal/httpapi"
	"castbot/internal/report"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	telegram "castbot/internal/transport/telegram/adapter"
	"castbot/internal/transport/telegram/router"
	logx "castbot/pkg/logx"
	"castbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	repo  *campaign.Repository

	adapter *telegram.Adapter

	engSup *supervisor.Supervisor
	engine *dispatch.Engine
	ctl    *campaign.Controller
	cmdm   *router.CommandManager
	digest *report.Reporter
	http   *httpapi.Server

	loaded  []campaign.Campaign
	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging off, set the target, then apply the
	// final config so Apply() doesn't warn about a missing target.
	logCfg := mapLogConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logSvc, log := logx.New(boot, ad)
	logSvc.SetTelegramTarget(strings.TrimSpace(cfg.Telegram.GroupLog), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	repo := campaign.NewRepository(store, log)
	loaded, err := repo.Load(context.Background())
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.Int("campaigns", len(loaded)))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		repo:    repo,
		adapter: ad,
		loaded:  loaded,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapDispatchConfig(c); err != nil {
			return err
		}
		if rc := mapReportConfig(c); rc.Enabled {
			if _, err := report.ParseSchedule(rc.Schedule); err != nil {
				return fmt.Errorf("report.schedule: %w", err)
			}
		}
		return nil
	})

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return err
	}
	// Dispatch loops get their own supervisor: a failing campaign must not
	// take the app down with it.
	a.engSup = supervisor.New(a.sup.Context(),
		supervisor.WithLogger(a.log.With(logx.String("comp", "dispatch"))),
		supervisor.WithCancelOnError(false),
	)
	a.engine = dispatch.New(a.repo, a.adapter, a.engSup, a.bus, a.log, dcfg)
	a.ctl = campaign.NewController(a.repo, a.engine, a.log)

	a.cmdm = router.NewCommandManager(a.log, a.adapter, cfg.Telegram.OwnerUserIDs)
	a.cmdm.SetRegistry(router.BroadcastCommands(a.ctl, a.adapter))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	if err := a.engine.Resume(a.sup.Context(), a.loaded, cfg.Dispatch.Resume()); err != nil {
		a.log.Warn("some campaigns could not be resumed", logx.Err(err))
	}
	a.loaded = nil

	a.digest = report.New(a.ctl, a.adapter, a.engine.Active, a.log)
	if err := a.digest.Start(a.sup.Context(), mapReportConfig(cfg)); err != nil {
		a.log.Warn("digest not scheduled", logx.Err(err))
	}

	a.http = httpapi.New(a.ctl, a.engine.Active, a.log)
	if err := a.http.Start(a.sup.Context(), mapHTTPConfig(cfg)); err != nil {
		return err
	}

	if sc, enabled := mapSinkConfig(cfg); enabled {
		sink := eventsink.New(sc, a.bus, eventsink.DialAMQP, a.log)
		a.sup.GoRestart("events.amqp", sink.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	// debug-level event trace; the AMQP sink is the durable consumer
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("systemd.watchdog", systemd.Watchdog)
	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("dispatching %d campaigns", len(a.engine.ActiveCodes())))

	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.Int("active", len(a.engine.ActiveCodes())),
	)
	return nil
}

// applyConfig pushes the hot-reloadable parts of newCfg into the running
// components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	// target first so Apply() doesn't warn when Telegram logging is enabled
	a.logs.SetTelegramTarget(strings.TrimSpace(newCfg.Telegram.GroupLog), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if dc, err := mapDispatchConfig(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(dc)
	}
	if err := a.digest.Apply(mapReportConfig(newCfg)); err != nil {
		a.log.Warn("digest not rescheduled", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Stop taking commands first; in-flight deliveries still finish below.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.http != nil {
		step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	}
	if a.digest != nil {
		step("report", time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	}
	if a.engine != nil {
		// Loops exit without clearing their running flags so they resume on
		// the next start.
		step("dispatch", 35*time.Second, func(c context.Context) error {
			err := a.engine.Shutdown(c)
			return errors.Join(err, a.engSup.Stop(c))
		})
	}
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

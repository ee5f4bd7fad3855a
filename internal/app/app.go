package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ctfwatch/internal/commands"
	"ctfwatch/internal/config"
	"ctfwatch/internal/ctftime"
	"ctfwatch/internal/eventbus"
	"ctfwatch/internal/notifier"
	"ctfwatch/internal/observability"
	"ctfwatch/internal/runtime/supervisor"
	"ctfwatch/internal/storage"
	"ctfwatch/internal/transport"
	"ctfwatch/internal/transport/telegram"
	"ctfwatch/internal/watch"
	logx "ctfwatch/pkg/logx"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	source  *ctftime.Client
	notif   *notifier.Service
	engine  *watch.Engine
	cmds    *commands.Dispatcher
	metrics *observability.Metrics
	obs     *observability.Server

	updates chan transport.Update
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log)
	appLog := log.With(logx.String("comp", "app"))

	// Close whatever was opened if a later step fails.
	var closers []func()
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	sc, err := MapStorage(cfg)
	if err != nil {
		return fail(err)
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	closers = append(closers, func() { _ = store.Close() })
	closers = append(closers, func() { _ = logSvc.Close() })

	tcfg, err := mapTelegram(cfg)
	if err != nil {
		return fail(err)
	}
	ad, err := telegram.New(tcfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(fmt.Errorf("telegram: %w", err))
	}

	srcCfg, err := mapSource(cfg)
	if err != nil {
		return fail(err)
	}
	source := ctftime.New(srcCfg, log)

	bus := eventbus.New()

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(ncfg, ad, log, bus)

	wcfg, err := mapWatch(cfg)
	if err != nil {
		return fail(err)
	}
	eng, err := watch.New(ctx, wcfg, watch.Deps{
		Source:        source,
		Notifier:      notif,
		Subscriptions: store,
		Ledger:        store,
		Log:           log,
		Bus:           bus,
	})
	if err != nil {
		return fail(err)
	}

	cmds := commands.New(eng, notif, store, log, commands.Options{Menu: ad, BotUsername: ad.Username()})

	metrics := observability.NewMetrics(bus, observability.Gauges{
		PendingAlarms: eng.Pending,
		Subscribers:   eng.State().Registry.Count,
	}, log)
	var obs *observability.Server
	if cfg.Observability.Enabled {
		obs = observability.NewServer(mapObservability(cfg), metrics.Registry(), log)
	}

	all, team := eng.State().Registry.Count()
	appLog.Info("state loaded",
		logx.String("storage", sc.Driver),
		logx.Int("subscribers_all", all),
		logx.Int("subscribers_team", team),
	)

	return &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		source:  source,
		notif:   notif,
		engine:  eng,
		cmds:    cmds,
		metrics: metrics,
		obs:     obs,
		updates: make(chan transport.Update, 256),
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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// The structural checks already ran; make sure the mapped values are usable too.
		if _, err := mapWatch(cfg); err != nil {
			return err
		}
		_, err := mapNotifier(cfg)
		return err
	})

	if a.obs != nil {
		if err := a.obs.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("observability: %w", err)
		}
	}
	a.sup.Go0("metrics.consume", func(c context.Context) { a.metrics.Consume(c, a.bus) })
	if a.log.Enabled(logx.LevelDebug) {
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
					a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				}
			}
		})
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		_ = a.cmds.SyncMenu(mctx)
	})
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.Run(c, a.updates)
	})

	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.apply(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// apply pushes the live-reloadable parts of a new config.
func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogging(next))

	if wcfg, err := mapWatch(next); err != nil {
		a.log.Warn("invalid watch config; keeping previous", logx.Err(err))
	} else if err := a.engine.Apply(wcfg); err != nil {
		a.log.Warn("watch config rejected; keeping previous", logx.Err(err))
	}
	if ncfg, err := mapNotifier(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if config.RestartRequired(sections) {
		a.log.Warn("some changes take effect after restart", logx.String("changed", strings.Join(sections, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) error {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		err := fn(sctx)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return err
	}

	// Inbound edges first so no new work arrives, in parallel.
	var g errgroup.Group
	g.Go(func() error { return step("adapter", 2*time.Second, a.adapter.Stop) })
	if a.obs != nil {
		g.Go(func() error { return step("observability", time.Second, a.obs.Stop) })
	}
	_ = g.Wait()

	_ = step("watch", 3*time.Second, a.engine.Stop)
	_ = step("supervisor", 2*time.Second, a.sup.Wait)
	_ = step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Package app is the composition root: it loads config, builds the
// store, bus, delivery channel, and services, and owns their lifecycle.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"homepulse/internal/config"
	"homepulse/internal/eventbus"
	"homepulse/internal/platform"
	"homepulse/internal/platform/telegram"
	"homepulse/internal/services/content"
	"homepulse/internal/services/engage"
	"homepulse/internal/services/engine"
	"homepulse/internal/services/optimizer"
	"homepulse/internal/services/prefs"
	"homepulse/internal/store"
	logx "homepulse/pkg/logx"
)

type App struct {
	log  logx.Logger
	cfgm *config.Manager

	st  store.Store
	q   *store.Queue
	bus eventbus.Bus

	local *platform.Local
	tg    *telegram.Deliverer

	prefs   *prefs.Service
	tracker *engage.Tracker
	engine  *engine.Service
	opt     *optimizer.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var st store.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err = store.Open(store.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "store")))
		if err != nil {
			return nil, err
		}
	}
	q := store.NewQueue(st, log.With(logx.String("comp", "queue")))
	bus := eventbus.New()

	// Delivery channel: Telegram when configured, otherwise the log.
	var (
		deliverer platform.Deliverer
		tg        *telegram.Deliverer
	)
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		pollTimeout, err := config.ParseDurationDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			ChatID:      cfg.Telegram.ChatID,
			PollTimeout: pollTimeout,
			RatePerSec:  cfg.Telegram.RatePerSec,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		deliverer = tg
	} else {
		deliverer = platform.NewLogDeliverer(log.With(logx.String("comp", "deliver")))
	}
	local := platform.NewLocal(deliverer, log.With(logx.String("comp", "notifier")))

	ps := prefs.NewService(q, bus, log.With(logx.String("comp", "prefs")))
	if err := ps.SeedDefaults(prefsSeed(cfg.Notifications)); err != nil {
		return nil, err
	}

	gen, err := content.NewGenerator(log.With(logx.String("comp", "content")))
	if err != nil {
		return nil, err
	}

	tracker := engage.NewTracker(engage.Config{
		MaxRecords:      cfg.Engagement.MaxRecords,
		ExplorationRate: cfg.Engagement.ExplorationRate,
	}, q, bus, log.With(logx.String("comp", "engage")))

	eng := engine.New(engine.Deps{
		Prefs:    ps,
		Content:  gen,
		Notifier: local,
		Tracker:  tracker,
		Queue:    q,
		Bus:      bus,
		Log:      log.With(logx.String("comp", "engine")),
	})

	var opt *optimizer.Service
	if cfg.OptimizerEnabled() {
		opt = optimizer.New(optimizer.Config{Spec: cfg.Optimizer.Spec},
			ps, tracker, bus, log.With(logx.String("comp", "optimizer")))
	}

	return &App{
		log:     log,
		cfgm:    cfgm,
		st:      st,
		q:       q,
		bus:     bus,
		local:   local,
		tg:      tg,
		prefs:   ps,
		tracker: tracker,
		engine:  eng,
		opt:     opt,
	}, nil
}

func prefsSeed(n config.NotificationsConfig) prefs.Patch {
	p := prefs.Patch{Enabled: n.Enabled}
	if n.QuietStart != "" || n.QuietEnd != "" {
		q := prefs.Defaults().QuietHours
		if n.QuietStart != "" {
			q.Start = n.QuietStart
		}
		if n.QuietEnd != "" {
			q.End = n.QuietEnd
		}
		p.QuietHours = &q
	}
	if n.WeeklyLimit > 0 {
		limit := n.WeeklyLimit
		p.Frequency = &prefs.FrequencyPatch{WeeklyLimit: &limit}
	}
	if n.Style != "" {
		style := prefs.Style(n.Style)
		p.Style = &style
	}
	if n.Timing != "" {
		timing := prefs.DeliveryTiming(n.Timing)
		p.DeliveryTiming = &timing
	}
	return p
}

// Prefs exposes the preference service for embedding callers.
func (a *App) Prefs() *prefs.Service { return a.prefs }

// Engine exposes the scheduling service for embedding callers.
func (a *App) Engine() *engine.Service { return a.engine }

// Tracker exposes the engagement tracker for embedding callers.
func (a *App) Tracker() *engage.Tracker { return a.tracker }

// Bus exposes the in-process event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Start restores persisted state and launches the background loops.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.prefs.Load(ctx)
	a.tracker.Load(ctx)
	a.engine.Load(ctx)

	if a.tg != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.tg.Start(runCtx)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.engine.Run(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// Configured preference defaults win on reload; fields
				// the config leaves out keep their current values.
				if err := a.prefs.SeedDefaults(prefsSeed(cfg.Notifications)); err != nil {
					a.log.Warn("reloaded notification defaults rejected", logx.Err(err))
				}
			}
		}
	}()

	if a.opt != nil {
		if err := a.opt.Start(ctx); err != nil {
			return err
		}
	}

	a.log.Info("started",
		logx.Bool("telegram", a.tg != nil),
		logx.Bool("storage", a.st != nil),
		logx.Bool("optimizer", a.opt != nil))
	return nil
}

// Stop shuts down in reverse order: stop producing, flush writes,
// close the store.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.opt != nil {
		if err := a.opt.Stop(ctx); err != nil {
			a.log.Warn("optimizer stop", logx.Err(err))
		}
	}
	a.local.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out waiting for workers")
	}

	if err := a.q.Close(ctx); err != nil {
		a.log.Warn("write queue close", logx.Err(err))
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			a.log.Warn("store close", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	return a.log.Close()
}

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"chime/internal/config"
	"chime/internal/control"
	"chime/internal/eventbus"
	"chime/internal/mirror"
	"chime/internal/notifier"
	"chime/internal/observability/debug"
	"chime/internal/reminder"
	"chime/internal/runtime/supervisor"
	"chime/internal/scheduler"
	"chime/internal/storage"
	"chime/internal/transport/telegram"
	logx "chime/pkg/logx"
)

type Option func(*options)

type options struct {
	dryRun  bool
	out     io.Writer
	version string
}

// WithDryRun keeps reminders in memory; nothing is written to storage.
func WithDryRun(on bool) Option { return func(o *options) { o.dryRun = on } }

// WithOutput sets where popups and the terminal bell are written.
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

func WithVersion(v string) Option { return func(o *options) { o.version = v } }

type App struct {
	opts options

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	backend reminder.Backend
	store   *reminder.Store
	sched   *scheduler.Service
	notif   *notifier.Service
	mirror  *mirror.Mirror
	debug   *debug.Server

	sdNotify bool
	sup      *supervisor.Supervisor
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{out: os.Stderr, version: "dev"}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(mapLogging(cfg))
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }
	bus := eventbus.New()

	var backend reminder.Backend
	if o.dryRun {
		backend = storage.NewMemory()
	} else {
		sc, err := mapStorage(cfg)
		if err != nil {
			return nil, err
		}
		if backend, err = storage.Open(sc, comp("storage")); err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}
	store, err := reminder.OpenStore(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	player := notifier.NewPlayer(o.out, mapSound(cfg))
	sinks := []notifier.Sink{notifier.NewSound(player)}
	if cfg.Popup.Enabled {
		sinks = append(sinks, notifier.NewPopup(o.out))
	}
	if tc, ok, err := mapTelegram(cfg); err != nil {
		_ = backend.Close()
		return nil, err
	} else if ok {
		client, err := telegram.New(tc, comp("telegram"))
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		sinks = append(sinks, notifier.NewPush(client))
	} else {
		log.Debug("push sink disabled (telegram.token empty)")
	}
	notif := notifier.New(ncfg, player, comp("notifier"), bus, sinks...)

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, store, notif, comp("scheduler"), scheduler.WithBus(bus))

	a := &App{
		opts:     o,
		cfgm:     cfgm,
		log:      comp("app"),
		logs:     logs,
		bus:      bus,
		backend:  backend,
		store:    store,
		sched:    sched,
		notif:    notif,
		sdNotify: cfg.Systemd.Notify,
	}
	a.debug = debug.New(mapDebug(cfg), func() any { return a.Status() }, comp("debug"))
	if mc, ok, err := mapMirror(cfg); err != nil {
		_ = backend.Close()
		return nil, err
	} else if ok {
		a.mirror = mirror.New(mc, sched, bus, comp("mirror"))
	}
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app supervisor is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapNotifier(cfg); err != nil {
			return err
		}
		_, _, err := mapTelegram(cfg)
		return err
	})

	a.notif.Start(runCtx)
	// Reports from the background waker go in before arming, or an overdue
	// occurrence it already delivered would fire again from its timer.
	if a.mirror != nil {
		if n, err := a.mirror.Ingest(runCtx); err != nil {
			a.log.Warn("startup report ingest failed", logx.Err(err))
		} else if n > 0 {
			a.log.Info("ingested background fires before arming", logx.Int("count", n))
		}
	}
	armed := a.sched.Start(runCtx)

	a.debug.Start(runCtx)
	if a.mirror != nil {
		a.sup.GoRestart("mirror", a.mirror.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		eventbus.Consume(c, events, "", func(e eventbus.Event) {
			a.log.Debug("event", logx.String("type", e.Type), logx.String("id", e.ReminderID))
			if e.Type == eventbus.TypePersistFailed {
				a.log.Error("reminder state could not be saved", logx.String("id", e.ReminderID), logx.Any("detail", e.Data))
			}
		})
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.sdNotify {
		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			a.log.Warn("sd_notify READY failed", logx.Err(err))
		} else if !ok {
			a.log.Debug("sd_notify unsupported (NOTIFY_SOCKET unset)")
		}
	}
	a.log.Info("chime started", logx.Int("armed", armed), logx.String("tz", a.sched.Location().String()), logx.Bool("dry_run", a.opts.dryRun))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// apply hot-reloads logging, notifier, sound and debug. Other sections need a restart.
func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if cold := config.RestartRequired(sections); len(cold) > 0 {
		a.log.Warn("config change requires restart", logx.String("sections", strings.Join(cold, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))

	ncfg, err := mapNotifier(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}
	a.notif.ApplySound(mapSound(newCfg))

	a.debug.Reconfigure(ctx, mapDebug(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Status is the payload of the status tool.
type Status struct {
	Scheduler     scheduler.Snapshot            `json:"scheduler"`
	Supervisors   map[string][]supervisor.Stats `json:"supervisors"`
	Notifications []notifier.HistoryItem        `json:"recent_notifications"`
	EventsDropped uint64                        `json:"events_dropped"`
}

func (a *App) Status() Status {
	st := Status{
		Scheduler:     a.sched.Snapshot(),
		Supervisors:   map[string][]supervisor.Stats{},
		Notifications: a.notif.Snapshot(),
		EventsDropped: a.bus.Dropped(),
	}
	if a.sup != nil {
		st.Supervisors["app"] = a.sup.Snapshot()
	}
	if sup := a.notif.Supervisor(); sup != nil {
		st.Supervisors["notifier"] = sup.Snapshot()
	}
	if sup := a.debug.Supervisor(); sup != nil {
		st.Supervisors["debug"] = sup.Snapshot()
	}
	return st
}

// ServeControl runs the MCP tool server on in/out until ctx is done or in
// is closed.
func (a *App) ServeControl(ctx context.Context, in io.Reader, out io.Writer) error {
	srv := control.NewServer(a.sched, a.opts.version, a.log.With(logx.String("comp", "control")),
		control.WithStatus(func() any { return a.Status() }))
	return srv.Serve(ctx, in, out)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sdNotify {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	if a.mirror != nil {
		a.step(ctx, "mirror", time.Second, func(context.Context) error { return a.mirror.WriteSnapshot() })
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.backend.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline, so a
// stuck component cannot stall the rest.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
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
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// LoadReminders reads the stored reminders without starting anything.
func LoadReminders(ctx context.Context, cfgPath string) ([]reminder.Reminder, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer backend.Close()
	return backend.Load(ctx)
}

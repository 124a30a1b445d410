// Package app wires the watch session: config, logging, journal, the change
// monitor, the scheduler and the site builder.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"golang.org/x/sync/errgroup"

	"postwatch/internal/config"
	"postwatch/internal/engine"
	"postwatch/internal/schedule"
	"postwatch/internal/site"
	"postwatch/internal/watch"
	logx "postwatch/pkg/logx"
	"postwatch/pkg/systemd"
)

// App is one watch session.
type App struct {
	env *Env
	cfg *config.Config
	log logx.Logger

	layout  engine.Layout
	index   *schedule.Index
	builder *site.Builder
	sched   *engine.Scheduler
	router  *engine.Router
	rescan  *engine.Rescanner
	monitor *watch.Monitor
	sd      *systemd.Notifier

	// Rebuilder replaces the builder in tests.
	rebuilder engine.Rebuilder
}

// New builds a watch session over env. Nothing runs until Run.
func New(env *Env) (*App, error) {
	cfg := env.Config
	log := env.Log.With(logx.String("comp", "app"))

	layout := engine.Layout{
		Root:        cfg.Site.Root,
		ScheduleDir: cfg.Path(cfg.Site.ScheduleDir),
		DraftsDir:   cfg.Path(cfg.Site.DraftsCreationDir),
	}

	a := &App{
		env:    env,
		cfg:    cfg,
		log:    log,
		layout: layout,
		index:  schedule.NewIndex(),
		sd:     systemd.NewNotifier(cfg.Systemd.Notify == nil || *cfg.Systemd.Notify, env.Log.With(logx.String("comp", "systemd"))),
	}
	a.builder = site.NewBuilder(cfg.Site.Root, cfg.Watch.BuildCommand, cfg.Watch.RebuildRate, cfg.Watch.RebuildBurst,
		env.Log.With(logx.String("comp", "site")))
	a.rebuilder = a.builder

	a.sched = engine.NewScheduler(engine.SchedulerOptions{
		Index:     a.index,
		Publisher: env.Posts,
		Journal:   env.Journal,
		Layout:    layout,
		Clock:     env.Clock,
		Logger:    env.Log.With(logx.String("comp", "scheduler")),
		MaxSleep:  cfg.Watch.MaxSleep.D(),
	})
	a.rescan = engine.NewRescanner(env.Posts, a.index, layout, cfg.RescanSpec(), a.sched.Notify,
		env.Log.With(logx.String("comp", "rescan")))
	if err := a.rescan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: watch.rescan: %v", config.ErrInvalid, err)
	}

	trees, required, err := watchTrees(cfg, layout)
	if err != nil {
		return nil, err
	}
	a.monitor = watch.NewMonitor(watch.Options{
		Root:       cfg.Site.Root,
		Trees:      trees,
		Required:   required,
		Debounce:   cfg.Watch.Debounce.D(),
		Logger:     env.Log.With(logx.String("comp", "watch")),
		OnOverflow: a.rescan.Trigger,
	})
	return a, nil
}

// Index exposes the live schedule index.
func (a *App) Index() *schedule.Index { return a.index }

// Run performs the startup sweep, starts every loop and blocks until ctx is
// done or one loop fails.
func (a *App) Run(ctx context.Context) (err error) {
	a.log.Info("starting watch session", config.Summary(a.cfg)...)

	if st, serr := os.Stat(a.layout.ScheduleDir); serr != nil || !st.IsDir() {
		if serr == nil {
			serr = errors.New("not a directory")
		}
		return fmt.Errorf("schedule directory %s: %w", a.layout.ScheduleDir, serr)
	}

	// watch before the sweep so posts written meanwhile are not missed
	if err := a.monitor.Start(); err != nil {
		return err
	}

	found, err := a.env.Posts.ScanScheduled()
	if err != nil {
		return fmt.Errorf("scan schedule directory: %w", err)
	}
	a.sched.Sweep(ctx, found)

	cls := engine.NewClassifier(a.env.Posts, a.index, a.layout, a.sched.Notify,
		a.env.Log.With(logx.String("comp", "classifier")))
	a.router = engine.NewRouter(a.layout, cls, a.rebuilder, a.env.Log.With(logx.String("comp", "router")))

	g, gctx := errgroup.WithContext(ctx)
	a.goNamed(gctx, g, "watch.monitor", a.monitor.Run)
	a.goNamed(gctx, g, "engine.router", func(c context.Context) error { return a.router.Run(c, a.monitor.Changes()) })
	a.goNamed(gctx, g, "engine.scheduler", a.sched.Run)
	a.goNamed(gctx, g, "engine.rescan", a.rescan.Run)
	a.goNamed(gctx, g, "systemd.watchdog", a.sd.RunWatchdog)

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("%d post(s) scheduled", a.index.Len()))
	a.log.Info("watch session ready", logx.Int("scheduled", a.index.Len()))

	err = g.Wait()
	a.sd.Stopping()
	reason := stopReason(ctx, err)
	if reason != StopFatalError {
		err = nil
	}
	fields := []logx.Field{logx.String("reason", string(reason)), logx.Int("scheduled", a.index.Len())}
	if builds, failures, _ := a.builder.Stats(); builds > 0 {
		fields = append(fields, logx.Int("builds", builds), logx.Int("build_failures", failures))
	}
	if err != nil {
		fields = append(fields, logx.Err(err))
	}
	a.log.Info("watch session stopped", fields...)
	return err
}

// goNamed runs fn in g. A panic becomes an error that stops the session.
func (a *App) goNamed(ctx context.Context, g *errgroup.Group, name string, fn func(context.Context) error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("goroutine panic",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		a.log.Trace("goroutine started", logx.String("name", name))
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// watchTrees returns the trees to watch and which of them must exist. The
// content tree is required, and so is the tree holding the schedule
// directory, which is added when the configured watch dirs miss it.
func watchTrees(cfg *config.Config, layout engine.Layout) (trees, required []string, err error) {
	seen := map[string]bool{}
	for _, d := range cfg.Site.WatchDirs {
		d = filepath.Clean(strings.TrimSpace(d))
		if d == "." || d == "" || seen[d] {
			continue
		}
		seen[d] = true
		trees = append(trees, d)
	}

	rel, rerr := filepath.Rel(layout.Root, layout.ScheduleDir)
	if rerr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, nil, fmt.Errorf("%w: site.schedule_dir %s is outside the site root", config.ErrInvalid, layout.ScheduleDir)
	}
	top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if !coveredBy(trees, rel) {
		trees = append(trees, top)
	}
	for _, t := range trees {
		if t == "content" || coveredBy([]string{t}, rel) {
			required = append(required, t)
		}
	}
	return trees, required, nil
}

func coveredBy(trees []string, rel string) bool {
	for _, t := range trees {
		if rel == t || strings.HasPrefix(rel, t+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

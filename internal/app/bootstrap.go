package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"postwatch/internal/config"
	"postwatch/internal/content"
	"postwatch/internal/storage"
	logx "postwatch/pkg/logx"
)

// Options are the process-level overrides given on the command line.
type Options struct {
	// ConfigPath is the config file; "" means discover it in the site root.
	ConfigPath string
	// SiteRoot overrides site.root.
	SiteRoot string
	// LogLevel overrides logging.level.
	LogLevel string

	// Clock and Fs default to the real ones.
	Clock clockwork.Clock
	Fs    afero.Fs
}

// Env is what every command needs: the effective config, the logger, the
// posts of the site and the journal.
type Env struct {
	Config     *config.Config
	ConfigPath string
	Log        logx.Logger
	Posts      *content.Store
	// Journal is nil when storage is disabled.
	Journal storage.Store
	Clock   clockwork.Clock

	logs *logx.Service
}

// Open loads the config and builds the shared environment.
func Open(opts Options) (*Env, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		root := opts.SiteRoot
		if root == "" {
			root = "."
		}
		path = config.Discover(root)
	}

	bootLog := logx.NewConsole(levelOr(opts.LogLevel, config.DefaultLogLevel)).With(logx.String("comp", "config"))
	cfgm := config.NewConfigManager(path)
	cfgm.SetLogger(bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := resolveRoot(cfg, path, opts.SiteRoot); err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	logs, log := logx.New(mapLoggingConfig(cfg))

	journal, err := openJournal(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	posts := content.New(opts.Fs, cfg, clock)
	posts.SetLogger(log.With(logx.String("comp", "content")))

	return &Env{
		Config:     cfg,
		ConfigPath: path,
		Log:        log,
		Posts:      posts,
		Journal:    journal,
		Clock:      clock,
		logs:       logs,
	}, nil
}

// Close releases the journal and flushes the log file.
func (e *Env) Close() error {
	var err error
	if e.Journal != nil {
		err = e.Journal.Close()
	}
	if e.logs != nil {
		if cerr := e.logs.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// PublishNow publishes one post by slug or file name outside the watch
// session and journals the attempt.
func (e *Env) PublishNow(ctx context.Context, slug string) (string, error) {
	src, err := e.Posts.Resolve(slug)
	if err != nil {
		return "", err
	}
	rec := storage.Publication{Source: e.Posts.Rel(src), Trigger: storage.TriggerManual}
	dest, err := e.Posts.PublishPost(src)
	rec.At = e.Clock.Now()
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Dest = e.Posts.Rel(dest)
	}
	if e.Journal != nil {
		if jerr := e.Journal.AppendPublication(ctx, rec); jerr != nil {
			e.Log.Warn("journal append failed", logx.String("path", rec.Source), logx.Err(jerr))
		}
	}
	return dest, err
}

// resolveRoot makes site.root absolute. A relative root in a config file is
// relative to that file; the command line override wins.
func resolveRoot(cfg *config.Config, cfgPath, override string) error {
	root := cfg.Site.Root
	switch {
	case override != "":
		root = override
	case cfgPath != "" && !filepath.IsAbs(root):
		root = filepath.Join(filepath.Dir(cfgPath), root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("site root %q: %w", root, err)
	}
	cfg.Site.Root = abs
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	f := cfg.Logging.File
	path := f.Path
	if f.Enabled && path != "" {
		path = cfg.Path(path)
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    f.Enabled,
			Path:       path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

func openJournal(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Debug("journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	return st, nil
}

func levelOr(level, def string) string {
	if strings.TrimSpace(level) == "" {
		return def
	}
	return level
}

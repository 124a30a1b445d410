package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Site    SiteConfig     `json:"site"`
	Watch   WatchConfig    `json:"watch"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Systemd SystemdConfig  `json:"systemd"`
}

// SiteConfig describes the layout of the zola site.
//
// All directories are relative to Root unless absolute.
//
// Defaults (when fields are omitted/zero):
//   - drafts_creation_dir: "content/drafts"
//   - schedule_dir: "content/drafts/scheduled"
//   - publish_dest: "content/posts"
//   - draft_template: "draft.md" (looked up under templates/)
//   - watch_dirs: content, sass, static, templates, themes
//   - timezone: 0 (hours east of UTC)
//   - default_schedule_time: "12:00"
type SiteConfig struct {
	Root string `json:"root,omitempty"`

	DraftsCreationDir string `json:"drafts_creation_dir,omitempty"`
	// DraftsYearShift moves the date of new drafts so they sort on top.
	DraftsYearShift int    `json:"drafts_year_shift,omitempty"`
	DraftTemplate   string `json:"draft_template,omitempty"`
	PublishDest     string `json:"publish_dest,omitempty"`
	ScheduleDir     string `json:"schedule_dir,omitempty"`

	Timezone            int    `json:"timezone,omitempty"`
	DefaultScheduleTime string `json:"default_schedule_time,omitempty"`

	WatchDirs []string `json:"watch_dirs,omitempty"`
}

// WatchConfig controls the watch session.
//
// Durations accept Go duration strings ("2s", "1m") or plain numbers (seconds).
type WatchConfig struct {
	Debounce Duration `json:"debounce,omitempty"`
	// MaxSleep caps a single scheduler timer so wall clock jumps are caught up.
	MaxSleep Duration `json:"max_sleep,omitempty"`
	// Rescan is a cron spec for the periodic schedule directory rescan.
	// nil means default ("@every 30m"); an empty string disables it.
	Rescan *string `json:"rescan,omitempty"`

	BuildCommand []string `json:"build_command,omitempty"`
	// RebuildRate is the max number of rebuilds per second (0 = unlimited).
	RebuildRate float64 `json:"rebuild_rate,omitempty"`
	RebuildBurst int    `json:"rebuild_burst,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// StorageConfig controls the publication journal.
//
// Example:
//
//	[storage]
//	driver = "sqlite"
//	path = ".postwatch/journal.db"
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"` // sqlite only
}

// SystemdConfig toggles sd_notify integration (no-op outside systemd).
type SystemdConfig struct {
	Notify *bool `json:"notify,omitempty"`
}

const (
	DefaultDraftsCreationDir   = "content/drafts"
	DefaultScheduleDir         = "content/drafts/scheduled"
	DefaultPublishDest         = "content/posts"
	DefaultDraftTemplate       = "draft.md"
	DefaultScheduleTime        = "12:00"
	DefaultDebounce            = 2 * time.Second
	DefaultMaxSleep            = time.Minute
	DefaultRescan              = "@every 30m"
	DefaultLogLevel            = "info"
	defaultMaxTimezoneHours    = 14
	defaultMinDebounceInterval = 10 * time.Millisecond
)

// DefaultWatchDirs are the zola trees whose changes trigger a rebuild.
var DefaultWatchDirs = []string{"content", "sass", "static", "templates", "themes"}

var DefaultBuildCommand = []string{"zola", "build"}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields in place.
func (c *Config) ApplyDefaults() {
	s := &c.Site
	if strings.TrimSpace(s.Root) == "" {
		s.Root = "."
	}
	if s.DraftsCreationDir == "" {
		s.DraftsCreationDir = DefaultDraftsCreationDir
	}
	if s.ScheduleDir == "" {
		s.ScheduleDir = DefaultScheduleDir
	}
	if s.PublishDest == "" {
		s.PublishDest = DefaultPublishDest
	}
	if s.DraftTemplate == "" {
		s.DraftTemplate = DefaultDraftTemplate
	}
	if s.DefaultScheduleTime == "" {
		s.DefaultScheduleTime = DefaultScheduleTime
	}
	if len(s.WatchDirs) == 0 {
		s.WatchDirs = append([]string(nil), DefaultWatchDirs...)
	}

	w := &c.Watch
	if w.Debounce <= 0 {
		w.Debounce = Duration(DefaultDebounce)
	}
	if w.MaxSleep <= 0 {
		w.MaxSleep = Duration(DefaultMaxSleep)
	}
	if w.Rescan == nil {
		spec := DefaultRescan
		w.Rescan = &spec
	}
	if len(w.BuildCommand) == 0 {
		w.BuildCommand = append([]string(nil), DefaultBuildCommand...)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Console == nil {
		on := true
		c.Logging.Console = &on
	}
	if c.Systemd.Notify == nil {
		on := true
		c.Systemd.Notify = &on
	}
}

// Validate checks a config after defaults were applied.
func (c *Config) Validate() error {
	if c.Site.Timezone < -defaultMaxTimezoneHours || c.Site.Timezone > defaultMaxTimezoneHours {
		return fmt.Errorf("%w: site.timezone %d out of range", ErrInvalid, c.Site.Timezone)
	}
	if _, _, err := ParseClock(c.Site.DefaultScheduleTime); err != nil {
		return fmt.Errorf("%w: site.default_schedule_time: %v", ErrInvalid, err)
	}
	if c.Watch.Debounce.D() < defaultMinDebounceInterval {
		return fmt.Errorf("%w: watch.debounce must be >= %s", ErrInvalid, defaultMinDebounceInterval)
	}
	if c.Watch.RebuildRate < 0 {
		return fmt.Errorf("%w: watch.rebuild_rate must be >= 0", ErrInvalid)
	}
	if len(c.Watch.BuildCommand) == 0 || strings.TrimSpace(c.Watch.BuildCommand[0]) == "" {
		return fmt.Errorf("%w: watch.build_command is empty", ErrInvalid)
	}
	sched := filepath.Clean(c.Site.ScheduleDir)
	if sched == filepath.Clean(c.Site.PublishDest) {
		return fmt.Errorf("%w: site.schedule_dir and site.publish_dest must differ", ErrInvalid)
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("%w: unknown storage.driver %q", ErrInvalid, c.Storage.Driver)
		}
	}
	return nil
}

// Location is the fixed offset posts are dated in.
func (c *Config) Location() *time.Location {
	h := c.Site.Timezone
	if h == 0 {
		return time.UTC
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", h), h*3600)
}

// Path resolves a site-relative path against the site root.
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(c.Site.Root, rel)
}

// RescanSpec returns the cron spec for periodic rescans ("" when disabled).
func (c *Config) RescanSpec() string {
	if c.Watch.Rescan == nil {
		return DefaultRescan
	}
	return strings.TrimSpace(*c.Watch.Rescan)
}

package config

import (
	logx "postwatch/pkg/logx"
)

// Summary returns safe structured attrs describing the effective config,
// logged once when a watch session starts.
func Summary(cfg *Config) []logx.Field {
	if cfg == nil {
		cfg = Default()
	}
	attrs := []logx.Field{
		logx.String("site.root", cfg.Site.Root),
		logx.String("site.schedule_dir", cfg.Site.ScheduleDir),
		logx.String("site.drafts_creation_dir", cfg.Site.DraftsCreationDir),
		logx.String("site.publish_dest", cfg.Site.PublishDest),
		logx.Strings("site.watch_dirs", cfg.Site.WatchDirs),
		logx.String("site.timezone", cfg.Location().String()),
		logx.Duration("watch.debounce", cfg.Watch.Debounce.D()),
		logx.Duration("watch.max_sleep", cfg.Watch.MaxSleep.D()),
		logx.String("watch.rescan", cfg.RescanSpec()),
		logx.Strings("watch.build_command", cfg.Watch.BuildCommand),
	}
	if cfg.Watch.RebuildRate > 0 {
		attrs = append(attrs, logx.Any("watch.rebuild_rate", cfg.Watch.RebuildRate))
	}
	if cfg.Storage != nil && cfg.Storage.Driver != "" {
		attrs = append(attrs, logx.String("storage.driver", cfg.Storage.Driver))
	}
	return attrs
}

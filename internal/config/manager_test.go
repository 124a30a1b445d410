package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "postwatch.toml",
			content: `
[site]
schedule_dir = "content/queue"
timezone = 2

[watch]
debounce = 3
rescan = ""
`,
		},
		{
			name: "yaml",
			file: "postwatch.yaml",
			content: `
site:
  schedule_dir: content/queue
  timezone: 2
watch:
  debounce: 3s
  rescan: ""
`,
		},
		{
			name:    "json",
			file:    "postwatch.json",
			content: `{"site":{"schedule_dir":"content/queue","timezone":2},"watch":{"debounce":"3s","rescan":""}}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tt.file, tt.content)
			cfg, err := NewConfigManager(p).Load()
			require.NoError(t, err)
			require.Equal(t, "content/queue", cfg.Site.ScheduleDir)
			require.Equal(t, 3*time.Second, cfg.Watch.Debounce.D())
			require.Equal(t, "", cfg.RescanSpec())
			require.Equal(t, 2*3600, offsetOf(cfg.Location()))
			// defaults still apply to the rest
			require.Equal(t, DefaultPublishDest, cfg.Site.PublishDest)
			require.Equal(t, DefaultWatchDirs, cfg.Site.WatchDirs)
		})
	}
}

func offsetOf(loc *time.Location) int {
	_, off := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	return off
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager(filepath.Join(t.TempDir(), "postwatch.toml")).Load()
	require.NoError(t, err)
	require.Equal(t, DefaultScheduleDir, cfg.Site.ScheduleDir)
	require.Equal(t, DefaultDebounce, cfg.Watch.Debounce.D())
	require.Equal(t, DefaultRescan, cfg.RescanSpec())
	require.Equal(t, time.UTC, cfg.Location())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "postwatch.toml", "[site]\nschedule_directory = \"x\"\n")
	_, err := NewConfigManager(p).Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"timezone", func(c *Config) { c.Site.Timezone = 20 }},
		{"schedule time", func(c *Config) { c.Site.DefaultScheduleTime = "25:00" }},
		{"debounce", func(c *Config) { c.Watch.Debounce = Duration(time.Millisecond) }},
		{"same dirs", func(c *Config) { c.Site.PublishDest = c.Site.ScheduleDir }},
		{"driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }},
	}
	for _, tt := range tests {
		c := Default()
		tt.mutate(c)
		err := c.Validate()
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: Validate() = %v, want ErrInvalid", tt.name, err)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDiscover(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if got := Discover(dir); got != "" {
		t.Fatalf("Discover() = %q, want empty", got)
	}
	want := writeFile(t, dir, "postwatch.yaml", "site: {}\n")
	if got := Discover(dir); got != want {
		t.Fatalf("Discover() = %q, want %q", got, want)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", "1.5")
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, d)

	_, err = ParseDurationField("x", "-2s")
	require.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	require.Equal(t, time.Minute, d)
}

// Package content reads and rewrites the markdown posts of a zola site.
//
// All file access goes through an afero.Fs so the operations can run against
// an in-memory tree in tests.
package content

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"postwatch/internal/config"
	logx "postwatch/pkg/logx"
)

var ErrExists = errors.New("post already exists")

// Store gives access to the posts of one site.
type Store struct {
	fs    afero.Fs
	clock clockwork.Clock
	log   logx.Logger

	root        string
	draftsDir   string
	scheduleDir string
	publishDest string
	template    string

	loc       *time.Location
	defHour   int
	defMinute int
	yearShift int
}

// New builds a Store from a validated config. A nil fs means the OS
// filesystem, a nil clock the real one.
func New(fsys afero.Fs, cfg *config.Config, clock clockwork.Clock) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h, m, err := config.ParseClock(cfg.Site.DefaultScheduleTime)
	if err != nil {
		h, m, _ = config.ParseClock(config.DefaultScheduleTime)
	}
	return &Store{
		fs:          fsys,
		clock:       clock,
		root:        filepath.Clean(cfg.Site.Root),
		draftsDir:   cfg.Path(cfg.Site.DraftsCreationDir),
		scheduleDir: cfg.Path(cfg.Site.ScheduleDir),
		publishDest: cfg.Path(cfg.Site.PublishDest),
		template:    cfg.Path(filepath.Join("templates", cfg.Site.DraftTemplate)),
		loc:         cfg.Location(),
		defHour:     h,
		defMinute:   m,
		yearShift:   cfg.Site.DraftsYearShift,
	}
}

func (s *Store) SetLogger(log logx.Logger) { s.log = log }

func (s *Store) Location() *time.Location { return s.loc }

// Now is the current time in the site timezone.
func (s *Store) Now() time.Time { return s.clock.Now().In(s.loc) }

func (s *Store) Exists(path string) bool {
	ok, _ := afero.Exists(s.fs, path)
	return ok
}

// Rel returns path relative to the site root, slash separated.
func (s *Store) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (s *Store) load(path string) (*Document, error) {
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, err
	}
	doc, err := Split(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ExtractScheduledInstant reads the date of the post at path.
func (s *Store) ExtractScheduledInstant(path string) (time.Time, error) {
	doc, err := s.load(path)
	if err != nil {
		return time.Time{}, err
	}
	fields, err := doc.Fields()
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", path, err)
	}
	v, ok := fields["date"]
	if !ok {
		return time.Time{}, fmt.Errorf("%s: %w", path, ErrNoDate)
	}
	t, err := dateValue(v, s.loc, s.defHour, s.defMinute)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Schedulable reports whether a file in the schedule directory is a post
// candidate: markdown, and not a section index.
func Schedulable(path string) bool {
	base := filepath.Base(path)
	return strings.EqualFold(filepath.Ext(base), ".md") && base != "_index.md"
}

// Scheduled is one post found in the schedule directory.
type Scheduled struct {
	Path string
	At   time.Time
	Err  error
}

// ScanScheduled lists every schedulable post under the schedule directory,
// sorted by path. Posts whose date cannot be read carry Err.
func (s *Store) ScanScheduled() ([]Scheduled, error) {
	var out []Scheduled
	err := afero.Walk(s.fs, s.scheduleDir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !Schedulable(p) {
			return nil
		}
		at, xerr := s.ExtractScheduledInstant(p)
		out = append(out, Scheduled{Path: p, At: at, Err: xerr})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.scheduleDir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Resolve finds the post for slug, looking in the schedule directory first,
// then in the drafts directory.
func (s *Store) Resolve(slug string) (string, error) {
	name := strings.TrimSuffix(slug, ".md") + ".md"
	for _, dir := range []string{s.scheduleDir, s.draftsDir} {
		p := filepath.Join(dir, name)
		if ok, _ := afero.Exists(s.fs, p); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, fs.ErrNotExist)
}

// slugOwner returns the first file in dir whose name ends with slug.md.
func (s *Store) slugOwner(dir, slug string) (string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	suffix := slug + ".md"
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

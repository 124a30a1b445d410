package content

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/spf13/afero"

	logx "postwatch/pkg/logx"
)

// CreateDraft writes a new draft named after the slug of title, built from
// the draft template. Returns the new path.
func (s *Store) CreateDraft(title string) (string, error) {
	title = strings.TrimSpace(title)
	sl := slug.Make(title)
	if sl == "" {
		return "", fmt.Errorf("new draft: title %q has no usable characters", title)
	}
	dest := filepath.Join(s.draftsDir, sl+".md")
	if ok, _ := afero.Exists(s.fs, dest); ok {
		return "", fmt.Errorf("new draft %s: %w", filepath.Base(dest), ErrExists)
	}
	if owner, err := s.slugOwner(s.draftsDir, sl); err == nil && owner != "" {
		s.log.Warn("a draft with the same title exists", logx.String("file", filepath.Base(owner)))
	}

	tmpl, err := afero.ReadFile(s.fs, s.template)
	if err != nil {
		return "", fmt.Errorf("new draft: template: %w", err)
	}
	doc, err := Split(tmpl)
	if err != nil {
		return "", fmt.Errorf("new draft: template %s: %w", s.template, err)
	}
	date := s.Now().AddDate(s.yearShift, 0, 0).Truncate(time.Second)
	doc.Set("draft", "true")
	doc.SetDate(date)
	doc.SetString("title", title)

	if err := s.fs.MkdirAll(s.draftsDir, 0o755); err != nil {
		return "", fmt.Errorf("new draft: %w", err)
	}
	if err := afero.WriteFile(s.fs, dest, doc.Bytes(), filePerm); err != nil {
		return "", fmt.Errorf("new draft: %w", err)
	}
	s.log.Info("draft created", logx.String("path", s.Rel(dest)))
	return dest, nil
}

// SchedulePost sets the date of the post for slug and moves it into the
// schedule directory, where a running watcher picks it up. A post already in
// the schedule directory is rescheduled in place.
func (s *Store) SchedulePost(slugOrName string, at time.Time) (string, error) {
	src, err := s.Resolve(slugOrName)
	if err != nil {
		return "", fmt.Errorf("schedule: %w", err)
	}
	doc, err := s.load(src)
	if err != nil {
		return "", fmt.Errorf("schedule: %w", err)
	}
	doc.SetDate(at.In(s.loc).Truncate(time.Second))

	dest := filepath.Join(s.scheduleDir, filepath.Base(src))
	if dest != src {
		if ok, _ := afero.Exists(s.fs, dest); ok {
			return "", fmt.Errorf("schedule %s: %w", filepath.Base(dest), ErrExists)
		}
	}
	if err := s.fs.MkdirAll(s.scheduleDir, 0o755); err != nil {
		return "", fmt.Errorf("schedule: %w", err)
	}
	if err := afero.WriteFile(s.fs, dest, doc.Bytes(), filePerm); err != nil {
		return "", fmt.Errorf("schedule: %w", err)
	}
	if dest != src {
		if err := s.fs.Remove(src); err != nil {
			return dest, fmt.Errorf("schedule: remove source: %w", err)
		}
	}
	s.log.Info("post scheduled", logx.String("path", s.Rel(dest)), logx.Time("at", at))
	return dest, nil
}

package content

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	logx "postwatch/pkg/logx"
)

const filePerm = 0o644

// PublishPost moves the post at path into the publish destination. The date
// is set to now and the draft flag dropped. It refuses to overwrite an
// existing file or a post with the same slug. Returns the new path.
func (s *Store) PublishPost(path string) (string, error) {
	if ok, _ := afero.Exists(s.fs, path); !ok {
		return "", fmt.Errorf("publish %s: %w", path, fs.ErrNotExist)
	}
	doc, err := s.load(path)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	now := s.Now().Truncate(time.Second)
	doc.SetDate(now)
	doc.Drop("draft")

	name := filepath.Base(path)
	slug := strings.TrimSuffix(name, filepath.Ext(name))
	dest := filepath.Join(s.publishDest, name)
	if ok, _ := afero.Exists(s.fs, dest); ok {
		return "", fmt.Errorf("publish %s: %s: %w", slug, dest, ErrExists)
	}
	owner, err := s.slugOwner(s.publishDest, slug)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", slug, err)
	}
	if owner != "" {
		return "", fmt.Errorf("publish %s: same slug as %s: %w", slug, filepath.Base(owner), ErrExists)
	}

	if err := s.fs.MkdirAll(s.publishDest, 0o755); err != nil {
		return "", fmt.Errorf("publish %s: %w", slug, err)
	}
	if err := afero.WriteFile(s.fs, dest, doc.Bytes(), filePerm); err != nil {
		return "", fmt.Errorf("publish %s: %w", slug, err)
	}
	if err := s.fs.Remove(path); err != nil {
		return dest, fmt.Errorf("publish %s: remove source: %w", slug, err)
	}
	s.log.Info("post published",
		logx.String("src", s.Rel(path)),
		logx.String("dest", s.Rel(dest)),
		logx.Time("date", now),
	)
	return dest, nil
}

// Package watch turns raw filesystem notifications for the site trees into
// debounced per-path changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	logx "postwatch/pkg/logx"
)

// Change is one debounced notification.
type Change struct {
	// Path is absolute.
	Path string
	// Rel is relative to the site root, slash separated.
	Rel string
	// Tree is the watched subtree the path belongs to (e.g. "content").
	Tree    string
	Removed bool
}

type Options struct {
	Root string
	// Trees are watched recursively, relative to Root.
	Trees []string
	// Required trees must exist; missing optional trees are skipped.
	Required []string
	Debounce time.Duration
	Clock    clockwork.Clock
	Logger   logx.Logger
	// OnOverflow is called when the kernel queue overflowed and events may
	// have been lost.
	OnOverflow func()
	// Buffer is the capacity of the Changes channel.
	Buffer int
}

type Monitor struct {
	root     string
	trees    []string
	required map[string]bool
	clock    clockwork.Clock
	log      logx.Logger

	onOverflow func()

	deb *Debouncer
	out chan Change

	mu      sync.Mutex
	w       *fsnotify.Watcher
	watched map[string]struct{}
}

func NewMonitor(opts Options) *Monitor {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	buf := opts.Buffer
	if buf <= 0 {
		buf = 256
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		root = filepath.Clean(opts.Root)
	}
	req := map[string]bool{}
	for _, t := range opts.Required {
		req[filepath.Clean(t)] = true
	}
	return &Monitor{
		root:       root,
		trees:      append([]string(nil), opts.Trees...),
		required:   req,
		clock:      clock,
		log:        opts.Logger,
		onOverflow: opts.OnOverflow,
		deb:        NewDebouncer(clock, opts.Debounce),
		out:        make(chan Change, buf),
		watched:    map[string]struct{}{},
	}
}

// Changes delivers debounced changes. It is never closed.
func (m *Monitor) Changes() <-chan Change { return m.out }

// Start creates the watcher and registers every directory of every tree.
// Any failure here is fatal for the session.
func (m *Monitor) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	m.mu.Lock()
	m.w = w
	m.mu.Unlock()

	added := 0
	for _, tree := range m.trees {
		dir := filepath.Join(m.root, tree)
		st, err := os.Stat(dir)
		if err != nil || !st.IsDir() {
			if m.required[filepath.Clean(tree)] {
				_ = w.Close()
				return fmt.Errorf("watch: required directory %s: %w", dir, errOrNotDir(err))
			}
			m.log.Debug("watch tree missing; skipped", logx.String("dir", dir))
			continue
		}
		if err := m.addRecursive(dir, nil); err != nil {
			_ = w.Close()
			return fmt.Errorf("watch: %s: %w", dir, err)
		}
		added++
	}
	if added == 0 {
		_ = w.Close()
		return fmt.Errorf("watch: no directory could be watched under %s", m.root)
	}
	m.log.Info("watching site", logx.String("root", m.root), logx.Int("dirs", m.WatchedDirs()))
	return nil
}

func errOrNotDir(err error) error {
	if err != nil {
		return err
	}
	return errors.New("not a directory")
}

// addRecursive watches dir and every directory below it. When seen is not
// nil, files found during the walk are reported to it (used for directories
// created while running, whose content arrived before the watch).
func (m *Monitor) addRecursive(dir string, seen func(path string)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if seen != nil && !ignoredName(d.Name()) {
				seen(p)
			}
			return nil
		}
		if p != dir && ignoredName(d.Name()) {
			return filepath.SkipDir
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watched[p]; ok {
			return nil
		}
		if err := m.w.Add(p); err != nil {
			return err
		}
		m.watched[p] = struct{}{}
		return nil
	})
}

func (m *Monitor) WatchedDirs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watched)
}

// Run drives the event loop and the flush loop until ctx is done.
// Start must have succeeded first.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	w := m.w
	m.mu.Unlock()
	if w == nil {
		return errors.New("watch: Run called before Start")
	}
	defer w.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.eventLoop(ctx, w) })
	g.Go(func() error { return m.deb.Run(ctx, m.emit(ctx)) })
	return g.Wait()
}

func (m *Monitor) emit(ctx context.Context) func([]Pending) error {
	return func(ready []Pending) error {
		for _, p := range ready {
			ch := m.change(p)
			select {
			case m.out <- ch:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	}
}

func (m *Monitor) change(p Pending) Change {
	rel, err := filepath.Rel(m.root, p.Path)
	if err != nil {
		rel = p.Path
	}
	rel = filepath.ToSlash(rel)
	tree := rel
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		tree = rel[:i]
	}
	return Change{Path: p.Path, Rel: rel, Tree: tree, Removed: p.Removed}
}

func (m *Monitor) eventLoop(ctx context.Context, w *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			m.handle(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if err == nil {
				continue
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("watch queue overflow; forcing rescan", logx.Err(err))
				if m.onOverflow != nil {
					m.onOverflow()
				}
				continue
			}
			m.log.Warn("watch error", logx.Err(err))
		}
	}
}

func (m *Monitor) handle(ev fsnotify.Event) {
	if ignoredName(filepath.Base(ev.Name)) {
		return
	}
	// chmod alone never changes content
	if ev.Op == fsnotify.Chmod {
		return
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		m.mu.Lock()
		m.forgetLocked(ev.Name)
		m.mu.Unlock()
		m.deb.Observe(ev.Name, true)
		return
	}

	st, err := os.Stat(ev.Name)
	if err != nil {
		// gone again before we looked
		m.deb.Observe(ev.Name, true)
		return
	}
	if st.IsDir() {
		if ev.Has(fsnotify.Create) {
			err := m.addRecursive(ev.Name, func(p string) { m.deb.Observe(p, false) })
			if err != nil {
				m.log.Warn("watch new directory failed", logx.String("dir", ev.Name), logx.Err(err))
			}
		}
		return
	}
	m.deb.Observe(ev.Name, false)
}

// forgetLocked drops dir and its descendants from the watched set. fsnotify
// releases the kernel watches of removed directories by itself.
func (m *Monitor) forgetLocked(dir string) {
	if _, ok := m.watched[dir]; !ok {
		return
	}
	prefix := dir + string(filepath.Separator)
	for p := range m.watched {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(m.watched, p)
			if m.w != nil {
				_ = m.w.Remove(p)
			}
		}
	}
}

// ignoredName filters editor swap/backup files and VCS directories.
func ignoredName(name string) bool {
	switch {
	case name == ".git", name == ".hg":
		return true
	case strings.HasSuffix(name, "~"),
		strings.HasSuffix(name, ".swp"),
		strings.HasSuffix(name, ".swx"),
		strings.HasPrefix(name, ".#"):
		return true
	}
	return false
}

// Package site runs the external static site build.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "postwatch/pkg/logx"
)

const maxOutputLog = 4 << 10

// Builder runs the build command in the site root. Calls are serialised and
// paced by a token bucket; a build is delayed, never dropped.
type Builder struct {
	root    string
	command []string
	limiter *rate.Limiter
	log     logx.Logger

	mu sync.Mutex

	// run executes one build; replaced in tests.
	run func(ctx context.Context, dir string, argv []string) ([]byte, error)

	stats struct {
		sync.Mutex
		builds   int
		failures int
		last     time.Duration
	}
}

// NewBuilder creates a builder. ratePerSec <= 0 disables pacing.
func NewBuilder(root string, command []string, ratePerSec float64, burst int, log logx.Logger) *Builder {
	lim := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &Builder{
		root:    root,
		command: append([]string(nil), command...),
		limiter: lim,
		log:     log,
		run:     execCommand,
	}
}

func execCommand(ctx context.Context, dir string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// RebuildSite runs the build command once.
func (b *Builder) RebuildSite(ctx context.Context) error {
	if len(b.command) == 0 {
		return errors.New("site: empty build command")
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("site: rebuild wait: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	out, err := b.run(ctx, b.root, b.command)
	took := time.Since(start)

	b.stats.Lock()
	b.stats.builds++
	b.stats.last = took
	if err != nil {
		b.stats.failures++
	}
	b.stats.Unlock()

	if err != nil {
		var ee *exec.Error
		if errors.As(err, &ee) && errors.Is(ee.Err, exec.ErrNotFound) {
			return fmt.Errorf("site: %s was not found, please verify PATH: %w", b.command[0], err)
		}
		return fmt.Errorf("site: %s: %w: %s", strings.Join(b.command, " "), err, tail(out))
	}
	b.log.Debug("site rebuilt",
		logx.Duration("took", took),
		logx.String("output", tail(out)),
	)
	return nil
}

// Stats returns the number of builds run, how many failed, and the duration
// of the last one.
func (b *Builder) Stats() (builds, failures int, last time.Duration) {
	b.stats.Lock()
	defer b.stats.Unlock()
	return b.stats.builds, b.stats.failures, b.stats.last
}

func tail(out []byte) string {
	out = bytes.TrimSpace(out)
	if len(out) > maxOutputLog {
		out = out[len(out)-maxOutputLog:]
	}
	return string(out)
}

// Package schedule holds the in-memory index of posts awaiting publication.
//
// The index keeps two views over the same set of entries:
//   - forward: instant -> set of paths, ordered by instant (B-tree)
//   - reverse: path -> instant
//
// Every exported method takes the index lock exactly once, so the two views
// never diverge observably and TakeDue is a single atomic read-then-remove.
// No I/O is performed under the lock.
package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
)

const btreeDegree = 16

// Entry is one post awaiting publication.
type Entry struct {
	Path string
	At   time.Time
}

// Due is a bucket of paths sharing the same instant.
type Due struct {
	At    time.Time
	Paths []string
}

type bucket struct {
	at    time.Time
	paths map[string]struct{}
}

func bucketLess(a, b *bucket) bool { return a.at.Before(b.at) }

type Index struct {
	mu      sync.Mutex
	forward *btree.BTreeG[*bucket]
	reverse map[string]time.Time
}

func NewIndex() *Index {
	return &Index{
		forward: btree.NewG[*bucket](btreeDegree, bucketLess),
		reverse: map[string]time.Time{},
	}
}

// Upsert schedules path at instant, moving it out of its previous bucket.
// It reports whether the index changed.
func (x *Index) Upsert(path string, at time.Time) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.reverse[path]; ok {
		if old.Equal(at) {
			return false
		}
		x.detachLocked(path, old)
	}
	b, ok := x.forward.Get(&bucket{at: at})
	if !ok {
		b = &bucket{at: at, paths: map[string]struct{}{}}
		x.forward.ReplaceOrInsert(b)
	}
	b.paths[path] = struct{}{}
	x.reverse[path] = at
	return true
}

// Remove unschedules path. It reports whether an entry existed.
func (x *Index) Remove(path string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	at, ok := x.reverse[path]
	if !ok {
		return false
	}
	x.detachLocked(path, at)
	delete(x.reverse, path)
	return true
}

// detachLocked removes path from the bucket at instant, dropping the bucket
// when it becomes empty.
func (x *Index) detachLocked(path string, at time.Time) {
	b, ok := x.forward.Get(&bucket{at: at})
	if !ok {
		return
	}
	delete(b.paths, path)
	if len(b.paths) == 0 {
		x.forward.Delete(b)
	}
}

// Nearest returns the earliest instant and its paths (sorted).
func (x *Index) Nearest() (time.Time, []string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	b, ok := x.forward.Min()
	if !ok {
		return time.Time{}, nil, false
	}
	return b.at, sortedPaths(b), true
}

// TakeDue removes and returns every bucket whose instant is <= now, in
// ascending instant order.
func (x *Index) TakeDue(now time.Time) []Due {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []Due
	for {
		b, ok := x.forward.Min()
		if !ok || b.at.After(now) {
			break
		}
		x.forward.DeleteMin()
		paths := sortedPaths(b)
		for _, p := range paths {
			delete(x.reverse, p)
		}
		out = append(out, Due{At: b.at, Paths: paths})
	}
	return out
}

// Lookup returns the instant path is scheduled at.
func (x *Index) Lookup(path string) (time.Time, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	at, ok := x.reverse[path]
	return at, ok
}

// Len returns the number of scheduled paths.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.reverse)
}

// Paths returns every scheduled path, sorted.
func (x *Index) Paths() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, 0, len(x.reverse))
	for p := range x.reverse {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns every entry ordered by instant, then path.
func (x *Index) Snapshot() []Entry {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]Entry, 0, len(x.reverse))
	x.forward.Ascend(func(b *bucket) bool {
		for _, p := range sortedPaths(b) {
			out = append(out, Entry{Path: p, At: b.at})
		}
		return true
	})
	return out
}

func sortedPaths(b *bucket) []string {
	out := make([]string, 0, len(b.paths))
	for p := range b.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

package schedule

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

// checkConsistent asserts the forward and reverse views describe the same set
// and that no bucket is empty.
func checkConsistent(t *testing.T, x *Index) {
	t.Helper()
	x.mu.Lock()
	defer x.mu.Unlock()

	seen := map[string]time.Time{}
	x.forward.Ascend(func(b *bucket) bool {
		if len(b.paths) == 0 {
			t.Errorf("empty bucket at %v", b.at)
		}
		for p := range b.paths {
			if _, dup := seen[p]; dup {
				t.Errorf("path %q in two buckets", p)
			}
			seen[p] = b.at
		}
		return true
	})
	if diff := cmp.Diff(x.reverse, seen); diff != "" {
		t.Errorf("reverse view mismatch (-reverse +forward):\n%s", diff)
	}
}

func TestUpsertMovesBetweenBuckets(t *testing.T) {
	t.Parallel()
	x := NewIndex()

	if !x.Upsert("a.md", at(10)) {
		t.Fatalf("first Upsert should change the index")
	}
	x.Upsert("b.md", at(10))
	if !x.Upsert("a.md", at(20)) {
		t.Fatalf("moving Upsert should change the index")
	}
	checkConsistent(t, x)

	want := []Entry{{"b.md", at(10)}, {"a.md", at(20)}}
	if diff := cmp.Diff(want, x.Snapshot()); diff != "" {
		t.Fatalf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	t.Parallel()
	x := NewIndex()
	x.Upsert("a.md", at(5))
	before := x.Snapshot()

	if x.Upsert("a.md", at(5)) {
		t.Fatalf("repeated Upsert reported a change")
	}
	if diff := cmp.Diff(before, x.Snapshot()); diff != "" {
		t.Fatalf("index changed after repeated Upsert:\n%s", diff)
	}
	checkConsistent(t, x)
}

func TestUpsertSameInstantDifferentZone(t *testing.T) {
	t.Parallel()
	x := NewIndex()
	x.Upsert("a.md", at(5))
	other := at(5).In(time.FixedZone("UTC+2", 7200))
	if x.Upsert("a.md", other) {
		t.Fatalf("Upsert of the same instant in another zone reported a change")
	}
	if x.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", x.Len())
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	x := NewIndex()
	x.Upsert("a.md", at(1))
	x.Upsert("b.md", at(1))

	if x.Remove("missing.md") {
		t.Fatalf("Remove(missing) = true, want false")
	}
	if !x.Remove("a.md") {
		t.Fatalf("Remove(a.md) = false, want true")
	}
	if x.Remove("a.md") {
		t.Fatalf("second Remove(a.md) = true, want false")
	}
	checkConsistent(t, x)

	x.Remove("b.md")
	if _, _, ok := x.Nearest(); ok {
		t.Fatalf("Nearest() on empty index should report !ok")
	}
	checkConsistent(t, x)
}

func TestNearest(t *testing.T) {
	t.Parallel()
	x := NewIndex()
	x.Upsert("late.md", at(30))
	x.Upsert("z.md", at(10))
	x.Upsert("a.md", at(10))

	inst, paths, ok := x.Nearest()
	if !ok {
		t.Fatalf("Nearest() ok = false")
	}
	if !inst.Equal(at(10)) {
		t.Fatalf("Nearest() instant = %v, want %v", inst, at(10))
	}
	if diff := cmp.Diff([]string{"a.md", "z.md"}, paths); diff != "" {
		t.Fatalf("Nearest() paths mismatch:\n%s", diff)
	}
}

func TestTakeDue(t *testing.T) {
	t.Parallel()
	x := NewIndex()
	x.Upsert("p1.md", at(1))
	x.Upsert("p2.md", at(2))
	x.Upsert("p2b.md", at(2))
	x.Upsert("p3.md", at(3))

	got := x.TakeDue(at(2))
	want := []Due{
		{At: at(1), Paths: []string{"p1.md"}},
		{At: at(2), Paths: []string{"p2.md", "p2b.md"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("TakeDue() mismatch (-want +got):\n%s", diff)
	}
	checkConsistent(t, x)

	if rest := x.Paths(); len(rest) != 1 || rest[0] != "p3.md" {
		t.Fatalf("remaining = %v, want [p3.md]", rest)
	}
	if again := x.TakeDue(at(2)); len(again) != 0 {
		t.Fatalf("second TakeDue() = %v, want empty", again)
	}
}

// Random mutations keep both views in sync and TakeDue returns exactly the
// entries whose instant is <= now.
func TestRandomOperations(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	x := NewIndex()
	model := map[string]time.Time{}

	for i := 0; i < 2000; i++ {
		p := fmt.Sprintf("post-%d.md", rng.Intn(40))
		switch rng.Intn(3) {
		case 0, 1:
			when := at(rng.Intn(50))
			x.Upsert(p, when)
			model[p] = when
		case 2:
			_, had := model[p]
			if got := x.Remove(p); got != had {
				t.Fatalf("Remove(%s) = %v, want %v", p, got, had)
			}
			delete(model, p)
		}
		if x.Len() != len(model) {
			t.Fatalf("Len() = %d, want %d", x.Len(), len(model))
		}
	}
	checkConsistent(t, x)

	now := at(25)
	taken := map[string]bool{}
	for _, d := range x.TakeDue(now) {
		if d.At.After(now) {
			t.Fatalf("TakeDue returned future bucket %v", d.At)
		}
		for _, p := range d.Paths {
			taken[p] = true
		}
	}
	for p, when := range model {
		due := !when.After(now)
		if taken[p] != due {
			t.Fatalf("%s at %v: taken = %v, want %v", p, when, taken[p], due)
		}
		if _, still := x.Lookup(p); still == due {
			t.Fatalf("%s: still indexed = %v after TakeDue", p, still)
		}
	}
	checkConsistent(t, x)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	x := NewIndex()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				p := fmt.Sprintf("g%d-%d.md", g, i%10)
				x.Upsert(p, at(i%7))
				if i%3 == 0 {
					x.Remove(p)
				}
				x.Nearest()
				if i%50 == 0 {
					x.TakeDue(at(2))
				}
			}
		}(g)
	}
	wg.Wait()
	checkConsistent(t, x)
}

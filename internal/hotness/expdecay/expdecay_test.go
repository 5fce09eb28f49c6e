package expdecay

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/coordinate-info/internal/hotness"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTracker(halfLife time.Duration, capacity int) (*Tracker, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := New(halfLife, capacity)
	tr.now = c.Now
	return tr, c
}

func near(t *testing.T, what string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s=%g want %g", what, got, want)
	}
}

const stockholm = "891f1d4a5a3ffff"

func TestRecord_WeightsByReturnedFeatures(t *testing.T) {
	tr, _ := newTracker(time.Minute, 0)

	near(t, "empty click", tr.Record(hotness.Hit{Cell: stockholm}), 1)
	near(t, "three features", tr.Record(hotness.Hit{Cell: stockholm, Types: map[string]int{"roads": 2, "rivers": 1}}), 4)

	b, ok := tr.Breakdown(stockholm)
	if !ok {
		t.Fatalf("cell not tracked")
	}
	near(t, "roads", b.Types["roads"], 2)
	near(t, "rivers", b.Types["rivers"], 1)
	near(t, "total", b.Score, 4)
}

func TestScore_HalvesEveryHalfLife(t *testing.T) {
	tr, c := newTracker(time.Minute, 0)
	tr.Record(hotness.Hit{Cell: stockholm, Types: map[string]int{"roads": 8}})

	c.Advance(time.Minute)
	near(t, "after one half-life", tr.Score(stockholm), 4)

	c.Advance(2 * time.Minute)
	b, _ := tr.Breakdown(stockholm)
	near(t, "roads after three", b.Types["roads"], 1)

	// a new hit lands on top of the decayed score
	near(t, "after new hit", tr.Record(hotness.Hit{Cell: stockholm, Types: map[string]int{"roads": 1}}), 2)
}

func TestTop_OrdersByScoreThenCell(t *testing.T) {
	tr, _ := newTracker(time.Hour, 0)
	tr.Record(hotness.Hit{Cell: "b", Types: map[string]int{"roads": 3}})
	tr.Record(hotness.Hit{Cell: "a", Types: map[string]int{"roads": 3}})
	tr.Record(hotness.Hit{Cell: "c"})
	tr.Record(hotness.Hit{Cell: "d", Types: map[string]int{"parcels": 5}})

	top := tr.Top(3)
	if len(top) != 3 {
		t.Fatalf("top=%d want 3", len(top))
	}
	if top[0].Cell != "d" || top[1].Cell != "a" || top[2].Cell != "b" {
		t.Fatalf("order=%s,%s,%s", top[0].Cell, top[1].Cell, top[2].Cell)
	}
	if tr.Top(0) != nil {
		t.Fatalf("Top(0) must be nil")
	}
}

func TestCapacity_EvictsLeastRecentlyClicked(t *testing.T) {
	tr, _ := newTracker(time.Hour, 2)
	tr.Record(hotness.Hit{Cell: "old"})
	tr.Record(hotness.Hit{Cell: "kept"})
	tr.Record(hotness.Hit{Cell: "old"})
	tr.Record(hotness.Hit{Cell: "new"})

	if tr.Size() != 2 {
		t.Fatalf("size=%d want 2", tr.Size())
	}
	if tr.Score("kept") != 0 {
		t.Fatalf("least recently clicked cell not evicted")
	}
	near(t, "old", tr.Score("old"), 2)
}

func TestScore_DoesNotRefreshRecency(t *testing.T) {
	tr, _ := newTracker(time.Hour, 2)
	tr.Record(hotness.Hit{Cell: "a"})
	tr.Record(hotness.Hit{Cell: "b"})
	tr.Score("a")
	tr.Breakdown("a")
	tr.Record(hotness.Hit{Cell: "c"})

	if tr.Score("a") != 0 || tr.Score("b") == 0 {
		t.Fatalf("reads must not keep a cell alive")
	}
}

func TestPrune_DropsCellsBelowScore(t *testing.T) {
	tr, c := newTracker(time.Second, 0)
	tr.Record(hotness.Hit{Cell: "cold"})
	c.Advance(10 * time.Second)
	tr.Record(hotness.Hit{Cell: "warm", Types: map[string]int{"roads": 2}})

	if n := tr.Prune(0.01); n != 1 {
		t.Fatalf("pruned=%d want 1", n)
	}
	if tr.Size() != 1 || tr.Score("warm") == 0 {
		t.Fatalf("warm cell pruned")
	}
}

func TestReset_And_EmptyCell(t *testing.T) {
	tr, _ := newTracker(time.Minute, 0)
	if got := tr.Record(hotness.Hit{Types: map[string]int{"roads": 1}}); got != 0 || tr.Size() != 0 {
		t.Fatalf("hit without cell recorded: %g", got)
	}
	tr.Record(hotness.Hit{Cell: "x"})
	tr.Reset("x", "missing")
	if tr.Size() != 0 {
		t.Fatalf("reset left %d cells", tr.Size())
	}
}

func TestRecord_Concurrent(t *testing.T) {
	tr, _ := newTracker(time.Hour, 0)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 250 {
				tr.Record(hotness.Hit{Cell: stockholm, Types: map[string]int{"roads": 1}})
			}
		}()
	}
	wg.Wait()
	near(t, "score", tr.Score(stockholm), 2000)
}

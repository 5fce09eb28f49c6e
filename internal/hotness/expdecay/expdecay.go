// Package expdecay keeps a bounded set of cells with exponentially decaying
// feature-hit scores.
package expdecay

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/mohammed-shakir/coordinate-info/internal/hotness"
)

// DefaultCapacity bounds the number of tracked cells.
const DefaultCapacity = 16384

// Tracker evicts the least recently clicked cell once full.
type Tracker struct {
	halfLife time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cells *simplelru.LRU[string, *cellState]
}

// scores are stored as of at and decayed lazily
type cellState struct {
	at    time.Time
	total float64
	types map[string]float64
}

var (
	_ hotness.Interface = (*Tracker)(nil)
	_ hotness.Sizer     = (*Tracker)(nil)
)

func New(halfLife time.Duration, capacity int) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// NewLRU only fails for a non-positive size
	cells, _ := simplelru.NewLRU[string, *cellState](capacity, nil)
	return &Tracker{halfLife: halfLife, now: time.Now, cells: cells}
}

func (t *Tracker) Record(h hotness.Hit) float64 {
	if h.Cell == "" {
		return 0
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.cells.Get(h.Cell)
	if !ok {
		st = &cellState{at: now, types: make(map[string]float64, len(h.Types))}
		t.cells.Add(h.Cell, st)
	} else {
		st.advance(now, t.factor(now.Sub(st.at)))
	}
	st.total += h.Weight()
	for name, n := range h.Types {
		if n > 0 {
			st.types[name] += float64(n)
		}
	}
	return st.total
}

func (t *Tracker) Score(cell string) float64 {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.cells.Peek(cell)
	if !ok {
		return 0
	}
	return st.total * t.factor(now.Sub(st.at))
}

// Breakdown returns the cell's decayed score per type name.
func (t *Tracker) Breakdown(cell string) (hotness.CellScore, bool) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.cells.Peek(cell)
	if !ok {
		return hotness.CellScore{}, false
	}
	return st.snapshot(cell, t.factor(now.Sub(st.at))), true
}

// Top returns up to n cells by descending score; ties order by cell.
func (t *Tracker) Top(n int) []hotness.CellScore {
	if n <= 0 {
		return nil
	}
	now := t.now()
	t.mu.Lock()
	out := make([]hotness.CellScore, 0, t.cells.Len())
	for _, cell := range t.cells.Keys() {
		st, _ := t.cells.Peek(cell)
		out = append(out, st.snapshot(cell, t.factor(now.Sub(st.at))))
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b hotness.CellScore) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.Cell, b.Cell)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (t *Tracker) Reset(cells ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range cells {
		t.cells.Remove(c)
	}
}

func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cells.Len()
}

// Prune drops cells whose decayed score fell below minScore.
func (t *Tracker) Prune(minScore float64) int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, cell := range t.cells.Keys() {
		st, _ := t.cells.Peek(cell)
		if st.total*t.factor(now.Sub(st.at)) < minScore {
			t.cells.Remove(cell)
			removed++
		}
	}
	return removed
}

// factor is the share of a score left after d
func (t *Tracker) factor(d time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	return math.Exp2(-d.Seconds() / t.halfLife.Seconds())
}

func (st *cellState) advance(now time.Time, f float64) {
	st.total *= f
	for k := range st.types {
		st.types[k] *= f
	}
	st.at = now
}

func (st *cellState) snapshot(cell string, f float64) hotness.CellScore {
	cs := hotness.CellScore{Cell: cell, Score: st.total * f, Types: make(map[string]float64, len(st.types))}
	for k, v := range st.types {
		cs.Types[k] = v * f
	}
	return cs
}

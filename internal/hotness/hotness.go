// Package hotness scores map cells by the features their clicks return.
package hotness

// Hit is one settled click: the cell it fell in and how many features each
// type name returned.
type Hit struct {
	Cell  string
	Types map[string]int
}

// Weight is one per returned feature, or one for a click that found nothing.
func (h Hit) Weight() float64 {
	n := 0
	for _, c := range h.Types {
		if c > 0 {
			n += c
		}
	}
	if n == 0 {
		return 1
	}
	return float64(n)
}

type Interface interface {
	// Record adds a hit and returns its cell's new score
	Record(h Hit) float64
	Score(cell string) float64
	Reset(cells ...string)
}

type Sizer interface{ Size() int }

// CellScore is a decayed cell score split by feature type name.
type CellScore struct {
	Cell  string
	Score float64
	Types map[string]float64
}

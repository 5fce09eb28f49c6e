// Package metricswrap reports hotness tracking through Prometheus and logs.
package metricswrap

import (
	"fmt"
	"log/slog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/coordinate-info/internal/core/observability"
	"github.com/mohammed-shakir/coordinate-info/internal/hotness"
)

type Options struct {
	// cells at or above this score are logged; 0 disables logging
	HotThreshold float64
	// fraction of hot cells logged, keyed on the cell hash
	LogSample float64
}

type WithMetrics struct {
	inner  hotness.Interface
	opts   Options
	logger *slog.Logger
}

var _ hotness.Interface = (*WithMetrics)(nil)

func New(inner hotness.Interface, logger *slog.Logger, opts Options) *WithMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithMetrics{inner: inner, opts: opts, logger: logger}
}

func (w *WithMetrics) Record(h hotness.Hit) float64 {
	score := w.inner.Record(h)
	if w.opts.HotThreshold > 0 && score >= w.opts.HotThreshold && shouldLog(w.opts.LogSample, h.Cell) {
		w.logger.Info("hot cell above threshold",
			"event", "hotness_threshold",
			"score", score,
			"weight", h.Weight(),
			"cell_hash", fmt.Sprintf("%08x", xx.Sum64String(h.Cell)))
	}
	w.updateGauge()
	return score
}

func (w *WithMetrics) Score(cell string) float64 {
	return w.inner.Score(cell)
}

func (w *WithMetrics) Reset(cells ...string) {
	w.inner.Reset(cells...)
	w.updateGauge()
}

// Prune forwards to the wrapped tracker when it supports pruning
func (w *WithMetrics) Prune(minScore float64) int {
	p, ok := w.inner.(interface{ Prune(float64) int })
	if !ok {
		return 0
	}
	n := p.Prune(minScore)
	w.updateGauge()
	return n
}

// Top forwards to the wrapped tracker when it can rank cells
func (w *WithMetrics) Top(n int) []hotness.CellScore {
	r, ok := w.inner.(interface{ Top(int) []hotness.CellScore })
	if !ok {
		return nil
	}
	return r.Top(n)
}

func (w *WithMetrics) updateGauge() {
	if s, ok := w.inner.(hotness.Sizer); ok {
		observability.SetHotCells(s.Size())
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	return xx.Sum64String(key)%denom < threshold
}

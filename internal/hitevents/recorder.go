package hitevents

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/coordinate-info/internal/coordinfo"
	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
	"github.com/mohammed-shakir/coordinate-info/internal/hotness"
	"github.com/mohammed-shakir/coordinate-info/internal/logger"
	"github.com/mohammed-shakir/coordinate-info/internal/mapper"
)

type Sink interface {
	Publish(ev Event)
}

// Recorder turns settled clicks into analytics events.
type Recorder struct {
	Mapper  mapper.Interface
	Hotness hotness.Interface
	Sink    Sink
	Res     int
	Logger  *slog.Logger

	now func() time.Time
}

func NewRecorder(m mapper.Interface, h hotness.Interface, sink Sink, res int, lg *slog.Logger) *Recorder {
	if lg == nil {
		lg = slog.Default()
	}
	return &Recorder{Mapper: m, Hotness: h, Sink: sink, Res: res, Logger: lg, now: time.Now}
}

// OnSettled has the signature expected by coordinfo.Deps.
func (r *Recorder) OnSettled(ctx context.Context, s coordinfo.Settlement) {
	ev := Event{
		Token:      s.Token,
		X:          s.Click.Coordinate.X,
		Y:          s.Click.Coordinate.Y,
		Projection: string(s.Click.Projection),
		Features:   s.Features.Count(),
		TypeNames:  s.Features.TypeNames(),
		TS:         r.now().UTC(),
	}

	if r.Mapper != nil {
		cell, err := r.Mapper.CellForCoordinate(s.Click.Coordinate, s.Click.Projection, r.Res)
		if err != nil {
			r.Logger.DebugContext(logger.WithClickToken(ctx, s.Token), "click has no h3 cell", "err", err)
		} else {
			ev.Cell = cell
			if r.Hotness != nil {
				ev.Hotness = r.Hotness.Record(hit(cell, s.Features))
			}
		}
	}

	if r.Sink != nil {
		r.Sink.Publish(ev)
	}
}

func hit(cell string, groups model.FeatureGroups) hotness.Hit {
	h := hotness.Hit{Cell: cell, Types: make(map[string]int, len(groups))}
	for name, fs := range groups {
		h.Types[name] = len(fs)
	}
	return h
}

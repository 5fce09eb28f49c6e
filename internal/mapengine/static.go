package mapengine

import (
	"sync"

	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
)

// Static is an in-process engine with an affine view and a fixed layer stack.
type Static struct {
	mu         sync.RWMutex
	center     model.Coordinate
	resolution float64
	projection model.Projection
	width      float64
	height     float64
	layers     []*Layer // bottom to top
}

type StaticView struct {
	Center     model.Coordinate
	Resolution float64
	Projection model.Projection
	Width      int
	Height     int
}

func NewStatic(v StaticView, layers []*Layer) *Static {
	s := &Static{layers: append([]*Layer(nil), layers...)}
	s.applyView(v)
	return s
}

func (s *Static) applyView(v StaticView) {
	s.center = v.Center
	s.resolution = v.Resolution
	if s.resolution <= 0 {
		s.resolution = 1
	}
	s.projection = v.Projection
	if s.projection == "" {
		s.projection = model.EPSG3857
	}
	s.width = float64(v.Width)
	s.height = float64(v.Height)
	if s.width <= 0 {
		s.width = 1024
	}
	if s.height <= 0 {
		s.height = 768
	}
}

// SetView moves the view; zero values keep the current setting
func (s *Static) SetView(center *model.Coordinate, resolution float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setView(center, resolution)
}

func (s *Static) setView(center *model.Coordinate, resolution float64) {
	if center != nil {
		s.center = *center
	}
	if resolution > 0 {
		s.resolution = resolution
	}
}

// ClickAt applies the optional view change and converts p under one lock,
// so the event's coordinate always matches its resolution.
func (s *Static) ClickAt(p model.Pixel, center *model.Coordinate, resolution float64) model.ClickEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setView(center, resolution)
	return model.ClickEvent{
		Pixel:      p,
		Coordinate: s.coordinateFromPixel(p),
		Resolution: s.resolution,
		Projection: s.projection,
	}
}

func (s *Static) View() model.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.View{Resolution: s.resolution, Projection: s.projection}
}

func (s *Static) CoordinateFromPixel(p model.Pixel) model.Coordinate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coordinateFromPixel(p)
}

// pixel origin is the top-left corner of the viewport, y grows downwards
func (s *Static) coordinateFromPixel(p model.Pixel) model.Coordinate {
	return model.Coordinate{
		X: s.center.X + (p.X-s.width/2)*s.resolution,
		Y: s.center.Y - (p.Y-s.height/2)*s.resolution,
	}
}

func (s *Static) LayersAtPixel(p model.Pixel, filter func(*Layer) bool, tolerance float64) []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tolerance < 0 {
		tolerance = 0
	}
	c := s.coordinateFromPixel(p)
	d := tolerance * s.resolution
	probe := Extent{MinX: c.X - d, MinY: c.Y - d, MaxX: c.X + d, MaxY: c.Y + d}

	var out []*Layer
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		if l == nil || !l.Visible {
			continue
		}
		if !l.Extent.Empty() && !l.Extent.Intersects(probe) {
			continue
		}
		if filter != nil && !filter(l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (s *Static) Layers() []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Layer(nil), s.layers...)
}

// Package mapengine describes the map engine capabilities the aggregator consumes.
package mapengine

import (
	"net/url"

	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
)

type SourceKind int

const (
	KindUnknown SourceKind = iota
	KindImageWMS
	KindTileWMS
	KindVector
)

func (k SourceKind) String() string {
	switch k {
	case KindImageWMS:
		return "image_wms"
	case KindTileWMS:
		return "tile_wms"
	case KindVector:
		return "vector"
	default:
		return "unknown"
	}
}

type Source interface {
	Kind() SourceKind
}

// FeatureInfoSource builds a feature-info request url for a map position.
type FeatureInfoSource interface {
	Source
	FeatureInfoURL(coord model.Coordinate, resolution float64, proj model.Projection, params url.Values) (string, error)
}

// Layer is owned by the host. Layer identity is pointer identity.
type Layer struct {
	Name    string
	Source  Source
	Extent  Extent
	Visible bool
}

type Extent struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Empty reports whether no extent was configured (layer covers everything)
func (e Extent) Empty() bool {
	return e.MinX == 0 && e.MinY == 0 && e.MaxX == 0 && e.MaxY == 0
}

func (e Extent) Intersects(o Extent) bool {
	return e.MinX <= o.MaxX && e.MaxX >= o.MinX && e.MinY <= o.MaxY && e.MaxY >= o.MinY
}

type Engine interface {
	View() model.View
	CoordinateFromPixel(p model.Pixel) model.Coordinate
	// LayersAtPixel returns layers hit at the pixel, top-most first.
	LayersAtPixel(p model.Pixel, filter func(*Layer) bool, tolerance float64) []*Layer
}

type VectorSource struct{}

func (VectorSource) Kind() SourceKind { return KindVector }

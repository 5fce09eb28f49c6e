package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
	"github.com/mohammed-shakir/coordinate-info/internal/core/ogc"
	"github.com/mohammed-shakir/coordinate-info/internal/mapengine"
)

var ErrMapFile = errors.New("invalid map file")

// MapFile describes the view and the layer stack (bottom to top).
type MapFile struct {
	View   MapView    `yaml:"view"`
	Layers []MapLayer `yaml:"layers"`
}

type MapView struct {
	Center     []float64 `yaml:"center"`
	Resolution float64   `yaml:"resolution"`
	Projection string    `yaml:"projection,omitempty"`
	Width      int       `yaml:"width,omitempty"`
	Height     int       `yaml:"height,omitempty"`
}

type MapLayer struct {
	Name      string            `yaml:"name"`
	Type      string            `yaml:"type"` // wms|tilewms|vector
	URL       string            `yaml:"url,omitempty"`
	Params    map[string]string `yaml:"params,omitempty"`
	TileSize  int               `yaml:"tile_size,omitempty"`
	Origin    []float64         `yaml:"origin,omitempty"`
	Extent    []float64         `yaml:"extent,omitempty"`
	Visible   *bool             `yaml:"visible,omitempty"`
	Queryable bool              `yaml:"queryable,omitempty"`
}

// LoadMap reads and parses the YAML map file at path.
func LoadMap(path string) (*MapFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map file: %w", err)
	}
	return ParseMap(data)
}

func ParseMap(data []byte) (*MapFile, error) {
	var m MapFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMapFile, err)
	}
	return &m, nil
}

// Build turns the file into an engine and the queryable layer set.
func (m *MapFile) Build() (*mapengine.Static, []*mapengine.Layer, error) {
	view := mapengine.StaticView{
		Resolution: m.View.Resolution,
		Projection: model.Projection(strings.ToUpper(strings.TrimSpace(m.View.Projection))),
		Width:      m.View.Width,
		Height:     m.View.Height,
	}
	if len(m.View.Center) > 0 {
		c, err := coordinate(m.View.Center)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: view center: %v", ErrMapFile, err)
		}
		view.Center = c
	}

	layers := make([]*mapengine.Layer, 0, len(m.Layers))
	var queryable []*mapengine.Layer
	for i, ml := range m.Layers {
		l, err := ml.layer()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: layer %d (%s): %v", ErrMapFile, i, ml.Name, err)
		}
		layers = append(layers, l)
		if ml.Queryable {
			queryable = append(queryable, l)
		}
	}
	return mapengine.NewStatic(view, layers), queryable, nil
}

func (ml MapLayer) layer() (*mapengine.Layer, error) {
	l := &mapengine.Layer{Name: ml.Name, Visible: true}
	if ml.Visible != nil {
		l.Visible = *ml.Visible
	}
	if len(ml.Extent) > 0 {
		if len(ml.Extent) != 4 {
			return nil, fmt.Errorf("extent needs 4 numbers, got %d", len(ml.Extent))
		}
		l.Extent = mapengine.Extent{MinX: ml.Extent[0], MinY: ml.Extent[1], MaxX: ml.Extent[2], MaxY: ml.Extent[3]}
	}

	params := url.Values{}
	for k, v := range ml.Params {
		params.Set(k, v)
	}

	switch strings.ToLower(ml.Type) {
	case "wms", "imagewms":
		l.Source = &ogc.ImageWMS{URL: ml.URL, Params: params}
	case "tilewms":
		src := &ogc.TileWMS{URL: ml.URL, Params: params, TileSize: ml.TileSize}
		if len(ml.Origin) > 0 {
			o, err := coordinate(ml.Origin)
			if err != nil {
				return nil, fmt.Errorf("origin: %v", err)
			}
			src.Origin = &o
		}
		l.Source = src
	case "vector", "":
		l.Source = mapengine.VectorSource{}
	default:
		return nil, fmt.Errorf("unknown layer type %q", ml.Type)
	}
	return l, nil
}

func coordinate(xy []float64) (model.Coordinate, error) {
	if len(xy) != 2 {
		return model.Coordinate{}, fmt.Errorf("want [x, y], got %d numbers", len(xy))
	}
	return model.Coordinate{X: xy[0], Y: xy[1]}, nil
}

// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
)

type Projection string

const (
	EPSG4326 Projection = "EPSG:4326"
	EPSG3857 Projection = "EPSG:3857"
	CRS84    Projection = "CRS:84"
)

type Pixel struct {
	X, Y float64
}

type Coordinate struct {
	X, Y float64
}

// String representation matching the wms x,y order
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.X, c.Y)
}

type View struct {
	Resolution float64
	Projection Projection
}

// ClickEvent is produced once per user click and never mutated afterwards.
type ClickEvent struct {
	Pixel      Pixel
	Coordinate Coordinate
	Resolution float64
	Projection Projection
}

// UnknownTypeName buckets features whose id carries no type prefix.
const UnknownTypeName = ""

// TypeSeparator splits a feature id into type name and local id ("roads.42").
const TypeSeparator = "."

type FeatureRecord struct {
	ID         string
	TypeName   string
	Geometry   orb.Geometry
	Properties map[string]any
}

// FeatureGroups maps a feature type name to its features in arrival order.
type FeatureGroups map[string][]FeatureRecord

// TypeNames returns the bucket keys sorted
func (g FeatureGroups) TypeNames() []string {
	out := make([]string, 0, len(g))
	for k := range g {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (g FeatureGroups) Count() int {
	n := 0
	for _, fs := range g {
		n += len(fs)
	}
	return n
}

func (g FeatureGroups) Clone() FeatureGroups {
	out := make(FeatureGroups, len(g))
	for k, fs := range g {
		cp := make([]FeatureRecord, len(fs))
		for i, f := range fs {
			cp[i] = f.Clone()
		}
		out[k] = cp
	}
	return out
}

func (f FeatureRecord) Clone() FeatureRecord {
	out := FeatureRecord{ID: f.ID, TypeName: f.TypeName}
	if f.Geometry != nil {
		out.Geometry = orb.Clone(f.Geometry)
	}
	if f.Properties != nil {
		out.Properties = cloneMap(f.Properties)
	}
	return out
}

type State struct {
	ClickCoordinate *Coordinate
	Features        FeatureGroups
	Loading         bool
}

// Clone returns a deep copy safe to hand to callers
func (s State) Clone() State {
	out := State{Loading: s.Loading, Features: FeatureGroups{}}
	if s.ClickCoordinate != nil {
		c := *s.ClickCoordinate
		out.ClickCoordinate = &c
	}
	if s.Features != nil {
		out.Features = s.Features.Clone()
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	default:
		return v
	}
}

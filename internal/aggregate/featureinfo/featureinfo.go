// Package featureinfo parses GeoJSON GetFeatureInfo responses and groups features by type name.
package featureinfo

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/coordinate-info/internal/aggregate"
	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
)

var ErrParse = errors.New("parse feature-info response")

type Aggregator struct {
	logger *slog.Logger
}

var _ aggregate.Interface = (*Aggregator)(nil)

func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Aggregate flattens every payload in order and buckets features by the type
// prefix of their id. A single unparseable payload fails the whole call.
func (a *Aggregator) Aggregate(payloads [][]byte) (model.FeatureGroups, error) {
	groups := model.FeatureGroups{}
	for i, p := range payloads {
		fc, err := geojson.UnmarshalFeatureCollection(p)
		if err != nil {
			return nil, fmt.Errorf("%w: payload %d: %v", ErrParse, i, err)
		}
		for _, f := range fc.Features {
			if f == nil {
				continue
			}
			rec := a.record(f)
			groups[rec.TypeName] = append(groups[rec.TypeName], rec)
		}
	}
	return groups, nil
}

func (a *Aggregator) record(f *geojson.Feature) model.FeatureRecord {
	id, ok := IDString(f.ID)
	typeName, typed := TypeName(id)
	if !ok || !typed {
		a.logger.Debug("feature id has no type prefix, using unknown bucket", "id", id)
	}
	rec := model.FeatureRecord{
		ID:         id,
		TypeName:   typeName,
		Geometry:   f.Geometry,
		Properties: map[string]any(f.Properties),
	}
	if rec.Properties == nil {
		rec.Properties = map[string]any{}
	}
	return rec
}

// IDString renders a GeoJSON id (string or number) as text.
func IDString(id any) (string, bool) {
	switch v := id.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return fmt.Sprint(v), true
	}
}

// TypeName returns the text before the first separator. Ids without a
// separator or with an empty prefix map to model.UnknownTypeName.
func TypeName(id string) (string, bool) {
	prefix, _, found := strings.Cut(id, model.TypeSeparator)
	if !found || prefix == "" {
		return model.UnknownTypeName, false
	}
	return prefix, true
}

// Package batch turns eligible hit layers into the minimum set of feature-info requests.
package batch

import (
	"log/slog"
	"net/url"

	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
	"github.com/mohammed-shakir/coordinate-info/internal/core/observability"
	"github.com/mohammed-shakir/coordinate-info/internal/core/ogc"
	"github.com/mohammed-shakir/coordinate-info/internal/mapengine"
)

type Options struct {
	FeatureCount int
	DrillDown    bool
}

type LayerQuery struct {
	Layer *mapengine.Layer
	URL   string
}

// Request is one outbound call; URLs are the layer queries it carries.
type Request struct {
	Key    string
	URL    string
	URLs   []string
	Layers []*mapengine.Layer
}

// Build creates one query per layer in hit order and bundles them per endpoint.
// Layers that fail to build are logged and skipped. Without drill-down only the
// first layer is visited.
func Build(logger *slog.Logger, click model.ClickEvent, layers []*mapengine.Layer, opts Options) []Request {
	queries := Queries(logger, click, layers, opts)
	if len(queries) == 0 {
		return nil
	}

	urls := make([]string, len(queries))
	byURL := make(map[string][]*mapengine.Layer, len(queries))
	for i, q := range queries {
		urls[i] = q.URL
		byURL[q.URL] = append(byURL[q.URL], q.Layer)
	}

	bundles := ogc.BundleRequests(urls)
	out := make([]Request, 0, len(bundles))
	for _, b := range bundles {
		r := Request{Key: b.Key, URL: b.URL, URLs: b.Members}
		seen := map[*mapengine.Layer]struct{}{}
		for _, m := range b.Members {
			for _, l := range byURL[m] {
				if _, dup := seen[l]; dup {
					continue
				}
				seen[l] = struct{}{}
				r.Layers = append(r.Layers, l)
			}
		}
		out = append(out, r)
	}
	observability.ObserveBatchesPerClick(len(out))
	return out
}

func Queries(logger *slog.Logger, click model.ClickEvent, layers []*mapengine.Layer, opts Options) []LayerQuery {
	params := ogc.FeatureInfoParams(opts.FeatureCount)

	var out []LayerQuery
	for _, l := range layers {
		q, err := buildOne(l, click, params)
		if err != nil {
			observability.IncLayerBuildError()
			if logger != nil {
				logger.Warn("skipping layer: feature-info query failed",
					"layer", layerName(l), "err", err)
			}
		} else {
			out = append(out, q)
		}
		if !opts.DrillDown {
			break
		}
	}
	return out
}

func buildOne(l *mapengine.Layer, click model.ClickEvent, params url.Values) (LayerQuery, error) {
	if l == nil {
		return LayerQuery{}, errNilLayer
	}
	src, ok := l.Source.(mapengine.FeatureInfoSource)
	if !ok {
		return LayerQuery{}, errNoFeatureInfo
	}
	u, err := src.FeatureInfoURL(click.Coordinate, click.Resolution, click.Projection, params)
	if err != nil {
		return LayerQuery{}, err
	}
	return LayerQuery{Layer: l, URL: u}, nil
}

func layerName(l *mapengine.Layer) string {
	if l == nil {
		return ""
	}
	return l.Name
}

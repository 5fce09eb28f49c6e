// Package router exposes the click aggregator over HTTP.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
	"github.com/mohammed-shakir/coordinate-info/internal/mapengine"
)

const maxBodyBytes = 1 << 16

type StateReader interface {
	State() model.State
	Active() bool
}

// ViewEngine is the part of the map engine the host drives.
type ViewEngine interface {
	// ClickAt applies the view change and converts the pixel atomically
	ClickAt(p model.Pixel, center *model.Coordinate, resolution float64) model.ClickEvent
	Layers() []*mapengine.Layer
}

type Emitter interface {
	Emit(ev model.ClickEvent)
}

type Handlers struct {
	Logger *slog.Logger
	Engine ViewEngine
	Clicks Emitter
	State  StateReader
}

// Mount registers the aggregator routes on r
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/click", h.Click)
	r.Get("/state", h.GetState)
	r.Get("/layers", h.ListLayers)
}

type viewRequest struct {
	Center     []float64 `json:"center,omitempty"`
	Resolution float64   `json:"resolution,omitempty"`
}

type clickRequest struct {
	Pixel []float64    `json:"pixel"`
	View  *viewRequest `json:"view,omitempty"`
}

type clickResponse struct {
	Coordinate [2]float64 `json:"coordinate"`
	Resolution float64    `json:"resolution"`
	Projection string     `json:"projection"`
}

func (h *Handlers) Click(w http.ResponseWriter, r *http.Request) {
	if !h.State.Active() {
		http.Error(w, "aggregator inactive", http.StatusServiceUnavailable)
		return
	}

	var req clickRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid click body: "+err.Error(), http.StatusBadRequest)
		return
	}
	px, center, err := parseClick(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var res float64
	if req.View != nil {
		res = req.View.Resolution
	}
	ev := h.Engine.ClickAt(px, center, res)
	h.Logger.DebugContext(r.Context(), "click received",
		"pixel_x", px.X, "pixel_y", px.Y, "coordinate", ev.Coordinate.String())
	h.Clicks.Emit(ev)

	writeJSON(w, http.StatusAccepted, clickResponse{
		Coordinate: [2]float64{ev.Coordinate.X, ev.Coordinate.Y},
		Resolution: ev.Resolution,
		Projection: string(ev.Projection),
	})
}

func parseClick(req clickRequest) (model.Pixel, *model.Coordinate, error) {
	if len(req.Pixel) != 2 || !finite(req.Pixel...) {
		return model.Pixel{}, nil, errors.New("pixel must be [x, y] with finite values")
	}
	px := model.Pixel{X: req.Pixel[0], Y: req.Pixel[1]}
	if req.View == nil {
		return px, nil, nil
	}

	var center *model.Coordinate
	if req.View.Center != nil {
		if len(req.View.Center) != 2 || !finite(req.View.Center...) {
			return px, nil, errors.New("view.center must be [x, y] with finite values")
		}
		center = &model.Coordinate{X: req.View.Center[0], Y: req.View.Center[1]}
	}
	if req.View.Resolution < 0 || !finite(req.View.Resolution) {
		return px, nil, fmt.Errorf("view.resolution must be positive, got %v", req.View.Resolution)
	}
	return px, center, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type featureDoc struct {
	Type       string            `json:"type"`
	ID         string            `json:"id,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

type collectionDoc struct {
	Type     string       `json:"type"`
	Features []featureDoc `json:"features"`
}

type stateResponse struct {
	Loading    bool                     `json:"loading"`
	Coordinate *[2]float64              `json:"coordinate"`
	Count      int                      `json:"count"`
	Features   map[string]collectionDoc `json:"features"`
}

// GetState renders the current state with one FeatureCollection per type name
func (h *Handlers) GetState(w http.ResponseWriter, _ *http.Request) {
	st := h.State.State()

	out := stateResponse{
		Loading:  st.Loading,
		Count:    st.Features.Count(),
		Features: make(map[string]collectionDoc, len(st.Features)),
	}
	if c := st.ClickCoordinate; c != nil {
		out.Coordinate = &[2]float64{c.X, c.Y}
	}
	for _, name := range st.Features.TypeNames() {
		fs := st.Features[name]
		coll := collectionDoc{Type: "FeatureCollection", Features: make([]featureDoc, 0, len(fs))}
		for _, f := range fs {
			doc := featureDoc{Type: "Feature", ID: f.ID, Properties: f.Properties}
			if f.Geometry != nil {
				doc.Geometry = geojson.NewGeometry(f.Geometry)
			}
			coll.Features = append(coll.Features, doc)
		}
		out.Features[name] = coll
	}
	writeJSON(w, http.StatusOK, out)
}

type layerResponse struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Visible bool   `json:"visible"`
}

func (h *Handlers) ListLayers(w http.ResponseWriter, _ *http.Request) {
	layers := h.Engine.Layers()
	out := make([]layerResponse, 0, len(layers))
	for _, l := range layers {
		kind := mapengine.KindUnknown
		if l.Source != nil {
			kind = l.Source.Kind()
		}
		out = append(out, layerResponse{Name: l.Name, Kind: kind.String(), Visible: l.Visible})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

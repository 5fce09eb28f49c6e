// Package ogc builds OGC WMS GetFeatureInfo requests and bundles them per endpoint.
package ogc

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
	"github.com/mohammed-shakir/coordinate-info/internal/mapengine"
)

const (
	DefaultVersion    = "1.3.0"
	DefaultInfoFormat = "application/json"
	DefaultTileSize   = 256

	// image sources query a fixed 101x101 px window centred on the click
	featureInfoImageSize = 101

	webMercatorHalfWidth = 20037508.342789244
)

var ErrBuildQuery = errors.New("build feature-info query")

// FeatureInfoParams are the fixed parameters appended to every layer query
func FeatureInfoParams(featureCount int) url.Values {
	if featureCount < 1 {
		featureCount = 1
	}
	v := url.Values{}
	v.Set("INFO_FORMAT", DefaultInfoFormat)
	v.Set("FEATURE_COUNT", strconv.Itoa(featureCount))
	return v
}

// ImageWMS is a single-image WMS source
type ImageWMS struct {
	URL    string
	Params url.Values
}

var _ mapengine.FeatureInfoSource = (*ImageWMS)(nil)

func (s *ImageWMS) Kind() mapengine.SourceKind { return mapengine.KindImageWMS }

func (s *ImageWMS) FeatureInfoURL(coord model.Coordinate, resolution float64, proj model.Projection, params url.Values) (string, error) {
	if err := checkInputs(s.URL, s.Params, resolution); err != nil {
		return "", err
	}
	half := featureInfoImageSize * resolution / 2
	extent := mapengine.Extent{
		MinX: coord.X - half,
		MinY: coord.Y - half,
		MaxX: coord.X + half,
		MaxY: coord.Y + half,
	}
	i := math.Floor((coord.X - extent.MinX) / resolution)
	j := math.Floor((extent.MaxY - coord.Y) / resolution)
	return requestURL(s.URL, s.Params, params, extent, featureInfoImageSize, proj, i, j)
}

// TileWMS is a tiled WMS source on a regular grid anchored at Origin (top-left)
type TileWMS struct {
	URL      string
	Params   url.Values
	TileSize int
	Origin   *model.Coordinate
}

var _ mapengine.FeatureInfoSource = (*TileWMS)(nil)

func (s *TileWMS) Kind() mapengine.SourceKind { return mapengine.KindTileWMS }

func (s *TileWMS) FeatureInfoURL(coord model.Coordinate, resolution float64, proj model.Projection, params url.Values) (string, error) {
	if err := checkInputs(s.URL, s.Params, resolution); err != nil {
		return "", err
	}
	size := s.TileSize
	if size <= 0 {
		size = DefaultTileSize
	}
	origin := model.Coordinate{X: -webMercatorHalfWidth, Y: webMercatorHalfWidth}
	if s.Origin != nil {
		origin = *s.Origin
	}

	span := resolution * float64(size)
	col := math.Floor((coord.X - origin.X) / span)
	row := math.Floor((origin.Y - coord.Y) / span)
	extent := mapengine.Extent{
		MinX: origin.X + col*span,
		MaxX: origin.X + (col+1)*span,
		MaxY: origin.Y - row*span,
		MinY: origin.Y - (row+1)*span,
	}
	i := math.Floor((coord.X - extent.MinX) / resolution)
	j := math.Floor((extent.MaxY - coord.Y) / resolution)
	return requestURL(s.URL, s.Params, params, extent, size, proj, i, j)
}

func checkInputs(endpoint string, params url.Values, resolution float64) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("%w: empty service url", ErrBuildQuery)
	}
	if upperValues(params).Get("LAYERS") == "" {
		return fmt.Errorf("%w: missing LAYERS param", ErrBuildQuery)
	}
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		return fmt.Errorf("%w: invalid resolution %v", ErrBuildQuery, resolution)
	}
	return nil
}

func requestURL(
	endpoint string,
	sourceParams, extra url.Values,
	extent mapengine.Extent,
	size int,
	proj model.Projection,
	i, j float64,
) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: parse service url: %v", ErrBuildQuery, err)
	}

	src := upperValues(sourceParams)
	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", DefaultVersion)
	params.Set("REQUEST", "GetFeatureInfo")
	params.Set("FORMAT", "image/png")
	params.Set("TRANSPARENT", "true")
	params.Set("QUERY_LAYERS", src.Get("LAYERS"))
	for k, vs := range src {
		params[k] = append([]string(nil), vs...)
	}
	for k, vs := range upperValues(extra) {
		params[k] = append([]string(nil), vs...)
	}

	v13 := compareVersions(params.Get("VERSION"), "1.3") >= 0
	params.Set("WIDTH", strconv.Itoa(size))
	params.Set("HEIGHT", strconv.Itoa(size))
	if v13 {
		params.Set("CRS", string(proj))
		params.Set("I", formatFloat(i))
		params.Set("J", formatFloat(j))
	} else {
		params.Set("SRS", string(proj))
		params.Set("X", formatFloat(i))
		params.Set("Y", formatFloat(j))
	}
	if _, ok := params["STYLES"]; !ok {
		params.Set("STYLES", "")
	}

	bbox := []float64{extent.MinX, extent.MinY, extent.MaxX, extent.MaxY}
	// wms 1.3.0 uses lat/lon axis order for EPSG:4326
	if v13 && proj == model.EPSG4326 {
		bbox = []float64{extent.MinY, extent.MinX, extent.MaxY, extent.MaxX}
	}
	parts := make([]string, len(bbox))
	for k, f := range bbox {
		parts[k] = formatFloat(f)
	}
	params.Set("BBOX", strings.Join(parts, ","))

	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func upperValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[strings.ToUpper(k)] = vs
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// compares dotted version strings numerically
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// Package h3mapper maps click coordinates to H3 cells.
package h3mapper

import (
	"errors"
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
	"github.com/mohammed-shakir/coordinate-info/internal/mapper"
)

var ErrUnsupportedProjection = errors.New("unsupported projection")

const earthRadius = 6378137.0

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

// CellForCoordinate returns the H3 cell containing c. Map coordinates are x/y
// in the given projection, so x is longitude for the geographic ones.
func (m *Mapper) CellForCoordinate(c model.Coordinate, proj model.Projection, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	lat, lng, err := toLatLng(c, proj)
	if err != nil {
		return "", err
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || math.IsNaN(lat) || math.IsNaN(lng) {
		return "", fmt.Errorf("coordinate %s out of range for %s", c.String(), proj)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return cell.String(), nil
}

func toLatLng(c model.Coordinate, proj model.Projection) (lat, lng float64, err error) {
	switch proj {
	case model.EPSG4326, model.CRS84:
		return c.Y, c.X, nil
	case model.EPSG3857:
		lng = c.X / earthRadius * 180 / math.Pi
		lat = (2*math.Atan(math.Exp(c.Y/earthRadius)) - math.Pi/2) * 180 / math.Pi
		return lat, lng, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnsupportedProjection, proj)
	}
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

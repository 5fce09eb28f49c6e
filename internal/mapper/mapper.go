// Package mapper places click coordinates on a discrete global grid.
package mapper

import "github.com/mohammed-shakir/coordinate-info/internal/core/model"

type Interface interface {
	CellForCoordinate(c model.Coordinate, proj model.Projection, res int) (string, error)
}

// Package aggregate defines how raw feature-info payloads become grouped features.
package aggregate

import "github.com/mohammed-shakir/coordinate-info/internal/core/model"

type Interface interface {
	Aggregate(payloads [][]byte) (model.FeatureGroups, error)
}

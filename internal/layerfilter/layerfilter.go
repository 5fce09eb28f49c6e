// Package layerfilter decides which hit layers may be queried for feature info.
package layerfilter

import "github.com/mohammed-shakir/coordinate-info/internal/mapengine"

// IsEligible reports whether candidate is backed by a WMS source and is one of
// the allowed layers. Membership is by identity, not by configuration.
func IsEligible(candidate *mapengine.Layer, allowed []*mapengine.Layer) bool {
	if candidate == nil || candidate.Source == nil {
		return false
	}
	if !Queryable(candidate.Source.Kind()) {
		return false
	}
	for _, l := range allowed {
		if l == candidate {
			return true
		}
	}
	return false
}

func Queryable(k mapengine.SourceKind) bool {
	return k == mapengine.KindImageWMS || k == mapengine.KindTileWMS
}

// Filter adapts IsEligible to the engine hit-test filter
func Filter(allowed []*mapengine.Layer) func(*mapengine.Layer) bool {
	return func(l *mapengine.Layer) bool {
		return IsEligible(l, allowed)
	}
}

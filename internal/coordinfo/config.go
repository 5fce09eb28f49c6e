package coordinfo

import "github.com/mohammed-shakir/coordinate-info/internal/mapengine"

const (
	DefaultFeatureCount = 1
	DefaultHitTolerance = 5.0
)

type Config struct {
	// QueryLayers is matched by pointer identity
	QueryLayers  []*mapengine.Layer
	FeatureCount int
	DrillDown    bool
	HitTolerance float64 // pixels
}

func DefaultConfig() Config {
	return Config{
		FeatureCount: DefaultFeatureCount,
		DrillDown:    true,
		HitTolerance: DefaultHitTolerance,
	}
}

func (c Config) normalize() Config {
	if c.FeatureCount < 1 {
		c.FeatureCount = DefaultFeatureCount
	}
	if c.HitTolerance < 0 {
		c.HitTolerance = DefaultHitTolerance
	}
	c.QueryLayers = append([]*mapengine.Layer(nil), c.QueryLayers...)
	return c
}

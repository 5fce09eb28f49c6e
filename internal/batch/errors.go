package batch

import (
	"fmt"

	"github.com/mohammed-shakir/coordinate-info/internal/core/ogc"
)

var (
	errNilLayer      = fmt.Errorf("%w: nil layer", ogc.ErrBuildQuery)
	errNoFeatureInfo = fmt.Errorf("%w: source has no feature-info capability", ogc.ErrBuildQuery)
)

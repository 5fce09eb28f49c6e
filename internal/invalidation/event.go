// Package invalidation tracks per-endpoint cache epochs driven by change events.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/coordinate-info/internal/cache/keys"
)

// Event announces that data behind a feature-info endpoint changed.
type Event struct {
	Version  uint64    `json:"version"`
	Op       string    `json:"op"`
	Endpoint string    `json:"endpoint"`
	Layer    string    `json:"layer,omitempty"`
	TS       time.Time `json:"ts"`
	Source   string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("version must be > 0")
	}
	switch e.Op {
	case "insert", "update", "delete", "reload":
	default:
		return fmt.Errorf("op must be insert|update|delete|reload")
	}
	if strings.TrimSpace(e.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// EndpointKey is the normalised endpoint the event applies to
func (e Event) EndpointKey() string { return keys.Endpoint(e.Endpoint) }

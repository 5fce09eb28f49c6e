package invalidation

import "sync"

// Epochs hands out the current cache epoch per endpoint. Unknown endpoints are at 0.
type Epochs struct {
	mu sync.RWMutex
	m  map[string]uint64
}

func NewEpochs() *Epochs { return &Epochs{m: map[string]uint64{}} }

func (e *Epochs) Epoch(endpoint string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.m[endpoint]
}

// Bump moves endpoint to a new epoch and returns it
func (e *Epochs) Bump(endpoint string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[endpoint]++
	return e.m[endpoint]
}

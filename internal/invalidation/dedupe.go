package invalidation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// VersionDedupe remembers the last applied version per key.
type VersionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func NewVersionDedupe(size int) *VersionDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &VersionDedupe{lru: c}
}

// ShouldApply returns true if v is greater than the last seen version for key
func (d *VersionDedupe) ShouldApply(key string, v uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && v <= last {
		return false
	}
	d.lru.Add(key, v)
	return true
}

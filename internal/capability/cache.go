package capability

import (
	"context"
	"sync"
)

// Process-wide capability snapshot. Initialized explicitly at startup via
// Init and replaced only by Refresh; there is no timer and no hidden lazy
// probe.
var cache struct {
	mu  sync.RWMutex
	set *Set
	det *Detector
}

// Init runs the first detection and installs the process-wide snapshot.
func Init(ctx context.Context, d *Detector) (*Set, error) {
	set, err := d.Detect(ctx)
	if err != nil {
		return nil, err
	}
	cache.mu.Lock()
	cache.set = set
	cache.det = d
	cache.mu.Unlock()
	return set, nil
}

// Current returns the cached snapshot, or nil when Init has not run.
func Current() *Set {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return cache.set
}

// Refresh re-probes the host and swaps in a new snapshot. On failure the
// previous snapshot stays in place.
func Refresh(ctx context.Context) (*Set, error) {
	cache.mu.RLock()
	d := cache.det
	cache.mu.RUnlock()
	if d == nil {
		d = &Detector{}
	}
	set, err := d.Detect(ctx)
	if err != nil {
		return nil, err
	}
	cache.mu.Lock()
	cache.set = set
	cache.mu.Unlock()
	return set, nil
}

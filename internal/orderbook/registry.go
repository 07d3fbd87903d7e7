package orderbook

import (
	"fmt"
	"sync"
)

// Registry holds one Maintainer per (exchange, symbol) key, created
// lazily on first use. Lookup and creation are serialized by a sync.Map
// rather than a single global mutex, so concurrent keys never contend.
type Registry struct {
	bufferSize  int
	fetch       SnapshotFetcher
	metrics     Metrics
	maintainers sync.Map // key string -> *Maintainer
}

// NewRegistry builds a registry whose maintainers share the given buffer
// size and snapshot fetcher.
func NewRegistry(bufferSize int, fetch SnapshotFetcher) *Registry {
	return &Registry{bufferSize: bufferSize, fetch: fetch}
}

// SetMetrics wires m into every maintainer this registry creates from this
// point on, so each one's resync count reports under its own
// exchange/symbol label. Maintainers already created before this call are
// not retroactively wired; call SetMetrics before the registry sees traffic.
func (r *Registry) SetMetrics(m Metrics) {
	r.metrics = m
}

func registryKey(exchange, symbol string) string {
	return fmt.Sprintf("%s|%s", exchange, symbol)
}

// Get returns the maintainer for exchange/symbol, creating it if absent.
func (r *Registry) Get(exchange, symbol string) *Maintainer {
	key := registryKey(exchange, symbol)
	if existing, ok := r.maintainers.Load(key); ok {
		return existing.(*Maintainer)
	}

	fresh := NewMaintainer(exchange, symbol, r.bufferSize, r.fetch)
	if r.metrics != nil {
		fresh.SetMetrics(r.metrics)
	}
	actual, _ := r.maintainers.LoadOrStore(key, fresh)
	return actual.(*Maintainer)
}

// Delete removes the maintainer for exchange/symbol, if any (used when a
// subscription is torn down).
func (r *Registry) Delete(exchange, symbol string) {
	r.maintainers.Delete(registryKey(exchange, symbol))
}

package catalog

import (
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
)

// Snapshot is an immutable view of the cache, ordered by product id. Every
// accessor hands out copies, so callers may modify what they get.
type Snapshot struct {
	Generation uint64
	LoadedAt   time.Time
	items      []products.Product
	index      map[uint64]int
}

func newSnapshot(gen uint64, at time.Time, items []products.Product) Snapshot {
	idx := make(map[uint64]int, len(items))
	for i, p := range items {
		idx[p.ID] = i
	}
	return Snapshot{Generation: gen, LoadedAt: at, items: items, index: idx}
}

func (s Snapshot) Len() int { return len(s.items) }

// Products returns a copy of the cached products in id order.
func (s Snapshot) Products() []products.Product {
	out := make([]products.Product, len(s.items))
	for i, p := range s.items {
		out[i] = p.Clone()
	}
	return out
}

func (s Snapshot) Get(id uint64) (products.Product, bool) {
	i, ok := s.index[id]
	if !ok {
		return products.Product{}, false
	}
	return s.items[i].Clone(), true
}

// Package readmodel persists catalog snapshots into a relational store so
// other tools can query provenance data without talking to the ledger.
package readmodel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
)

// Store replaces its whole content with each snapshot it receives.
type Store interface {
	Init(ctx context.Context) error
	Replace(ctx context.Context, generation uint64, items []products.Product) error
	Load(ctx context.Context) (State, error)
}

type State struct {
	Generation uint64
	UpdatedAt  time.Time
	Products   []products.Product
}

type productRow struct {
	id        int64
	name      string
	origin    string
	createdAt int64
	status    int16
}

type eventRow struct {
	productID int64
	seq       int32
	status    int16
	at        int64
}

// assemble joins product and event rows back into view models ordered by id.
func assemble(prows []productRow, erows []eventRow) ([]products.Product, error) {
	byID := make(map[int64]*products.Product, len(prows))
	out := make([]products.Product, len(prows))
	for i, r := range prows {
		out[i] = products.Product{
			ID:            uint64(r.id),
			Name:          r.name,
			Origin:        r.origin,
			CreatedAt:     r.createdAt,
			CurrentStatus: products.Status(r.status),
		}
		byID[r.id] = &out[i]
	}
	sort.SliceStable(erows, func(i, j int) bool {
		if erows[i].productID != erows[j].productID {
			return erows[i].productID < erows[j].productID
		}
		return erows[i].seq < erows[j].seq
	})
	for _, e := range erows {
		p, ok := byID[e.productID]
		if !ok {
			return nil, fmt.Errorf("readmodel: event for unknown product %d", e.productID)
		}
		p.History = append(p.History, products.StatusEvent{Status: products.Status(e.status), Timestamp: e.at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func toRows(items []products.Product) ([]productRow, []eventRow) {
	prows := make([]productRow, 0, len(items))
	var erows []eventRow
	for _, p := range items {
		prows = append(prows, productRow{
			id:        int64(p.ID),
			name:      p.Name,
			origin:    p.Origin,
			createdAt: p.CreatedAt,
			status:    int16(p.CurrentStatus),
		})
		for i, ev := range p.History {
			erows = append(erows, eventRow{
				productID: int64(p.ID),
				seq:       int32(i),
				status:    int16(ev.Status),
				at:        ev.Timestamp,
			})
		}
	}
	return prows, erows
}

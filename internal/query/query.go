// Package query filters a product snapshot by free text and status.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
)

// StatusFilter is All or a single status. The zero value is All.
type StatusFilter struct {
	status products.Status
	only   bool
}

var All = StatusFilter{}

func Only(s products.Status) StatusFilter { return StatusFilter{status: s, only: true} }

// ParseStatusFilter accepts "" or "All" (any case) and every form
// products.ParseStatus understands.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	if t := strings.TrimSpace(raw); t == "" || strings.EqualFold(t, "all") {
		return All, nil
	}
	s, err := products.ParseStatus(raw)
	if err != nil {
		return All, fmt.Errorf("status filter: %w", err)
	}
	return Only(s), nil
}

func (f StatusFilter) Match(s products.Status) bool { return !f.only || f.status == s }

func (f StatusFilter) String() string {
	if !f.only {
		return "All"
	}
	return f.status.Ident()
}

type Params struct {
	Search string
	Status StatusFilter
}

// Run keeps the products whose name contains Search (case-insensitive) or
// whose decimal id equals Search, and whose status passes the filter. Input
// order is preserved.
func Run(items []products.Product, p Params) []products.Product {
	needle := strings.ToLower(p.Search)
	out := make([]products.Product, 0, len(items))
	for _, it := range items {
		if !p.Status.Match(it.CurrentStatus) {
			continue
		}
		if strings.Contains(strings.ToLower(it.Name), needle) || strconv.FormatUint(it.ID, 10) == p.Search {
			out = append(out, it)
		}
	}
	return out
}

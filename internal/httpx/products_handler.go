package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/catalog"
	"github.com/ariefcatur/go-supplychain-tracker/internal/lifecycle"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/ariefcatur/go-supplychain-tracker/internal/query"
	"github.com/ariefcatur/go-supplychain-tracker/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ProductsHandler struct {
	Repo      *catalog.Repository
	Lifecycle *lifecycle.Service
	// Idem is optional; without it Idempotency-Key headers are ignored.
	Idem *redisx.Idempotency
	Log  *slog.Logger
	// WriteTimeout bounds submit plus confirmation of one write.
	WriteTimeout time.Duration
}

type ListResp struct {
	Generation uint64             `json:"generation"`
	LoadedAt   time.Time          `json:"loaded_at"`
	Search     string             `json:"search,omitempty"`
	Status     string             `json:"status"`
	Count      int                `json:"count"`
	Products   []products.Product `json:"products"`
}

type CreateProductReq struct {
	Name   string `json:"name"`
	Origin string `json:"origin"`
}

type TransitionReq struct {
	Status string `json:"status"`
}

type TransitionResp struct {
	lifecycle.Transition
	Cache string `json:"cache"`
}

type ReloadResp struct {
	Generation uint64    `json:"generation"`
	LoadedAt   time.Time `json:"loaded_at"`
	Count      int       `json:"count"`
	Superseded bool      `json:"superseded,omitempty"`
}

type StatusResp struct {
	Code  uint8  `json:"code"`
	Ident string `json:"ident"`
	Label string `json:"label"`
}

type IdentityResp struct {
	Address  string   `json:"address,omitempty"`
	ReadOnly bool     `json:"read_only"`
	InFlight []uint64 `json:"in_flight"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Post("/products/{id}/status", h.transition)
	r.Patch("/products/{id}/status", h.transition)
	r.Post("/reload", h.reload)
	r.Get("/identity", h.identity)
	r.Get("/statuses", h.statuses)
}

func (h *ProductsHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func (h *ProductsHandler) writeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := lifecycle.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	if h.WriteTimeout > 0 {
		return context.WithTimeout(ctx, h.WriteTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := query.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	search := r.URL.Query().Get("search")

	snap := h.Repo.Snapshot()
	items := query.Run(snap.Products(), query.Params{Search: search, Status: filter})
	writeJSON(w, http.StatusOK, ListResp{
		Generation: snap.Generation,
		LoadedAt:   snap.LoadedAt,
		Search:     search,
		Status:     filter.String(),
		Count:      len(items),
		Products:   items,
	})
}

func parseID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "invalid product id")
		return
	}
	p, ok := h.Repo.Snapshot().Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "product not found", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := h.writeCtx(r)
	defer cancel()

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.Idem != nil {
		prev, err := h.Idem.Claim(ctx, key)
		switch {
		case errors.Is(err, redisx.ErrInProgress):
			writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"})
			return
		case err != nil:
			// redis down: serve the request without replay protection
			h.logger().Warn("idempotency unavailable", "key", key, "err", err)
			key = ""
		case prev != nil:
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(prev)
			return
		}
	} else {
		key = ""
	}

	c, err := h.Lifecycle.CreateProduct(ctx, req.Name, req.Origin)
	if err != nil {
		if key != "" {
			_ = h.Idem.Release(context.WithoutCancel(ctx), key)
		}
		writeError(w, err)
		return
	}
	b, err := json.Marshal(c)
	if err != nil {
		writeError(w, err)
		return
	}
	if key != "" {
		if err := h.Idem.Complete(context.WithoutCancel(ctx), key, b); err != nil {
			h.logger().Warn("idempotency store", "key", key, "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(b)
}

func (h *ProductsHandler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "invalid product id")
		return
	}
	var req TransitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	status, err := products.ParseStatus(req.Status)
	if err != nil {
		// unauthorized still wins over a bad status
		if h.Lifecycle.Signer() == nil {
			writeError(w, products.ErrUnauthorized)
			return
		}
		writeError(w, err)
		return
	}

	ctx, cancel := h.writeCtx(r)
	defer cancel()

	t, err := h.Lifecycle.RequestTransition(ctx, id, status)
	if err != nil {
		writeError(w, err)
		return
	}
	if t.Outcome != catalog.Applied && t.Outcome != catalog.SkippedClosed {
		// the cache could not take the update in place; resync it from the ledger
		if _, err := h.Repo.ReloadAll(ctx); err != nil && !errors.Is(err, catalog.ErrSuperseded) {
			h.logger().Warn("reload after transition", "product_id", id, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, TransitionResp{Transition: t, Cache: t.Outcome.String()})
}

func (h *ProductsHandler) reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Repo.ReloadAll(r.Context())
	superseded := errors.Is(err, catalog.ErrSuperseded)
	if err != nil && !superseded {
		writeError(w, err)
		return
	}
	if superseded {
		snap = h.Repo.Snapshot()
	}
	writeJSON(w, http.StatusOK, ReloadResp{
		Generation: snap.Generation,
		LoadedAt:   snap.LoadedAt,
		Count:      snap.Len(),
		Superseded: superseded,
	})
}

func (h *ProductsHandler) identity(w http.ResponseWriter, r *http.Request) {
	resp := IdentityResp{ReadOnly: true, InFlight: h.Lifecycle.InFlight()}
	if s := h.Lifecycle.Signer(); s != nil {
		resp.Address, resp.ReadOnly = s.Address(), false
	}
	writeJSON(w, http.StatusOK, resp)
}

// statuses lists the enum so clients can build filters and transition choices.
func (h *ProductsHandler) statuses(w http.ResponseWriter, r *http.Request) {
	all := products.AllStatuses()
	out := make([]StatusResp, 0, len(all))
	for _, s := range all {
		out = append(out, StatusResp{Code: uint8(s), Ident: s.Ident(), Label: s.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

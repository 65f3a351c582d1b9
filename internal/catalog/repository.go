// Package catalog holds the in-memory view of every product on the ledger.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/ledger"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed = errors.New("repository closed")
	// ErrSuperseded is returned by a reload that finished after a newer one.
	ErrSuperseded = errors.New("reload superseded by a newer one")
)

// ReloadObserver receives the outcome of every reload attempt.
type ReloadObserver interface {
	ObserveReload(d time.Duration, products int, err error)
}

type Options struct {
	Logger *slog.Logger
	// Concurrency bounds parallel per-id fetches; 1 loads sequentially.
	Concurrency int
	Observer    ReloadObserver
}

// Repository caches the product set. The cache is copy-on-write: a published
// Snapshot is never mutated afterwards.
type Repository struct {
	reader      ledger.Reader
	log         *slog.Logger
	concurrency int
	observer    ReloadObserver

	mu         sync.RWMutex
	snap       Snapshot
	hooks      []func(Snapshot)
	dispatched atomic.Uint64
	closed     bool
}

func New(reader ledger.Reader, opts Options) *Repository {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Repository{
		reader:      reader,
		log:         opts.Logger,
		concurrency: opts.Concurrency,
		observer:    opts.Observer,
		snap:        Snapshot{index: map[uint64]int{}},
	}
}

// OnReload registers fn to run after every committed reload. Hooks run on
// the reloading goroutine, outside the cache lock.
func (r *Repository) OnReload(fn func(Snapshot)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Snapshot returns the current point-in-time view.
func (r *Repository) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Generation is the ticket of the reload that produced the current cache.
// Zero means nothing has been loaded yet.
func (r *Repository) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Generation
}

// Close detaches the repository. Work still in flight completes but its
// result is dropped. Taking the lock orders Close against any commit.
func (r *Repository) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// ReloadAll rebuilds the cache from the ledger for ids [0, count). Any single
// failure fails the whole reload and leaves the cache as it was.
func (r *Repository) ReloadAll(ctx context.Context) (Snapshot, error) {
	ticket := r.dispatched.Add(1)
	start := time.Now()

	items, warns, err := r.load(ctx)
	r.observe(time.Since(start), len(items), err)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reload: %w", err)
	}
	for _, w := range warns {
		r.log.Warn("history ordering", "product_id", w.ProductID, "index", w.Index,
			"previous", w.Previous, "current", w.Current)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Snapshot{}, fmt.Errorf("reload: %w", ErrClosed)
	}
	if current := r.snap.Generation; ticket < current {
		r.mu.Unlock()
		r.log.Info("reload discarded", "ticket", ticket, "generation", current)
		return Snapshot{}, fmt.Errorf("reload: %w", ErrSuperseded)
	}
	r.snap = newSnapshot(ticket, time.Now().UTC(), items)
	snap, hooks := r.snap, append([]func(Snapshot){}, r.hooks...)
	r.mu.Unlock()

	r.log.Info("reload committed", "generation", ticket, "products", len(items),
		"took_ms", time.Since(start).Milliseconds())
	for _, fn := range hooks {
		fn(snap)
	}
	return snap, nil
}

func (r *Repository) load(ctx context.Context) ([]products.Product, []products.OrderingWarning, error) {
	n, err := r.reader.Count(ctx)
	if err != nil {
		return nil, nil, err
	}

	items := make([]products.Product, n)
	warns := make([][]products.OrderingWarning, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for id := uint64(0); id < n; id++ {
		id := id
		g.Go(func() error {
			rec, err := r.reader.FetchRecord(gctx, id)
			if err != nil {
				return err
			}
			h, err := r.reader.FetchHistory(gctx, id)
			if err != nil {
				return err
			}
			p, w, err := products.Assemble(rec, h)
			if err != nil {
				return err
			}
			items[id], warns[id] = p, w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var all []products.OrderingWarning
	for _, w := range warns {
		all = append(all, w...)
	}
	return items, all, nil
}

// ApplyOutcome says what ApplyConfirmedTransition did.
type ApplyOutcome int

const (
	Applied ApplyOutcome = iota
	SkippedStale
	SkippedUnknown
	SkippedClosed
)

func (o ApplyOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case SkippedStale:
		return "stale"
	case SkippedUnknown:
		return "unknown_id"
	case SkippedClosed:
		return "closed"
	}
	return fmt.Sprintf("ApplyOutcome(%d)", int(o))
}

// ApplyConfirmedTransition records a confirmed status change locally without
// a reload. observed is the generation the caller read before submitting; if
// a newer reload has completed since, the update is dropped.
func (r *Repository) ApplyConfirmedTransition(observed, id uint64, status products.Status, at time.Time) ApplyOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return SkippedClosed
	}

	if r.snap.Generation > observed {
		r.log.Info("optimistic update dropped", "product_id", id,
			"observed_generation", observed, "generation", r.snap.Generation)
		return SkippedStale
	}
	i, ok := r.snap.index[id]
	if !ok {
		r.log.Warn("optimistic update for uncached product", "product_id", id,
			"generation", r.snap.Generation)
		return SkippedUnknown
	}

	items := make([]products.Product, len(r.snap.items))
	copy(items, r.snap.items)
	items[i] = items[i].WithTransition(status, at.Unix())
	r.snap = Snapshot{
		Generation: r.snap.Generation,
		LoadedAt:   r.snap.LoadedAt,
		items:      items,
		index:      r.snap.index,
	}
	return Applied
}

// Restore seeds an empty repository, e.g. from a cached snapshot, so readers
// have data before the first reload. It is ignored once anything is loaded.
func (r *Repository) Restore(items []products.Product, loadedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.Generation != 0 || len(r.snap.items) != 0 {
		return false
	}
	cp := make([]products.Product, len(items))
	for i, p := range items {
		cp[i] = p.Clone()
	}
	r.snap = newSnapshot(0, loadedAt, cp)
	return true
}

func (r *Repository) observe(d time.Duration, n int, err error) {
	if r.observer != nil {
		r.observer.ObserveReload(d, n, err)
	}
}

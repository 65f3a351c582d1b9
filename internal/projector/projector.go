// Package projector keeps a relational read model in step with the ledger.
// Product events only signal that something changed; every projection is a
// full reload, so lost or reordered events cannot corrupt the read model.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/catalog"
	kafkax "github.com/ariefcatur/go-supplychain-tracker/internal/kafka"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/ariefcatur/go-supplychain-tracker/internal/readmodel"
	"github.com/segmentio/kafka-go"
)

type Reloader interface {
	ReloadAll(ctx context.Context) (catalog.Snapshot, error)
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
}

type Options struct {
	Logger *slog.Logger
	// Dedup is optional; without it every delivery triggers a projection.
	Dedup Deduper
	// Resync forces a projection at this interval even without events.
	Resync time.Duration
}

type Projector struct {
	repo    Reloader
	store   readmodel.Store
	dedup   Deduper
	log     *slog.Logger
	resync  time.Duration
	trigger chan struct{}
}

func New(repo Reloader, store readmodel.Store, opts Options) *Projector {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Projector{
		repo:    repo,
		store:   store,
		dedup:   opts.Dedup,
		log:     opts.Logger,
		resync:  opts.Resync,
		trigger: make(chan struct{}, 1),
	}
}

// Handle is the kafka consumer handler. Undecodable messages are logged and
// committed; they would never decode on redelivery either.
func (p *Projector) Handle(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		p.log.Warn("dropping undecodable event", "topic", m.Topic, "offset", m.Offset, "err", err)
		return nil
	}
	switch env.EventType {
	case products.EventProductCreated, products.EventProductStatusChanged:
	default:
		p.log.Debug("ignoring event", "event_type", env.EventType, "event_id", env.EventID)
		return nil
	}

	if p.dedup != nil && env.EventID != "" {
		first, err := p.dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("projector: dedup %s: %w", env.EventID, err)
		}
		if !first {
			p.log.Debug("duplicate event", "event_id", env.EventID)
			return nil
		}
	}

	p.log.Info("event received", "event_type", env.EventType, "event_id", env.EventID,
		"trace_id", env.TraceID, "correlation_id", env.CorrelationID)
	p.Trigger()
	return nil
}

// Trigger asks for a projection. Triggers arriving while one is pending
// collapse into it.
func (p *Projector) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Sync reloads the catalog and replaces the read model with it.
func (p *Projector) Sync(ctx context.Context) error {
	snap, err := p.repo.ReloadAll(ctx)
	if errors.Is(err, catalog.ErrSuperseded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("projector: %w", err)
	}
	if err := p.store.Replace(ctx, snap.Generation, snap.Products()); err != nil {
		return fmt.Errorf("projector: %w", err)
	}
	p.log.Info("read model replaced", "generation", snap.Generation, "products", snap.Len())
	return nil
}

// Run projects once, then on every trigger and resync tick until ctx ends.
// Failed projections are logged; the next trigger retries from scratch.
func (p *Projector) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.resync > 0 {
		t := time.NewTicker(p.resync)
		defer t.Stop()
		tick = t.C
	}

	p.sync(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.trigger:
			p.sync(ctx)
		case <-tick:
			p.sync(ctx)
		}
	}
}

func (p *Projector) sync(ctx context.Context) {
	if err := p.Sync(ctx); err != nil && ctx.Err() == nil {
		p.log.Error("projection failed", "err", err)
	}
}

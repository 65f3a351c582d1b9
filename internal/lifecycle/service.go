// Package lifecycle drives ledger writes end to end: submit, wait for
// confirmation, then reconcile the local catalog.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/catalog"
	"github.com/ariefcatur/go-supplychain-tracker/internal/ledger"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
)

// Publisher ships confirmed-change events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env products.Envelope) error
}

type Metrics interface {
	ObserveTransition(op string, err error)
	SetInFlight(n int)
}

type Options struct {
	Logger    *slog.Logger
	Publisher Publisher
	Metrics   Metrics
	// Producer names this service in published envelopes.
	Producer string
	Now      func() time.Time
}

type Service struct {
	gw   ledger.Gateway
	repo *catalog.Repository
	log  *slog.Logger
	pub  Publisher
	met  Metrics
	name string
	now  func() time.Time

	signer atomic.Pointer[signerRef]

	mu       sync.Mutex
	inflight map[uint64]struct{}
}

type signerRef struct{ s ledger.Signer }

// New builds the service. signer may be nil, which starts it read-only.
func New(gw ledger.Gateway, repo *catalog.Repository, signer ledger.Signer, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		gw:       gw,
		repo:     repo,
		log:      opts.Logger,
		pub:      opts.Publisher,
		met:      opts.Metrics,
		name:     opts.Producer,
		now:      opts.Now,
		inflight: map[uint64]struct{}{},
	}
	s.Reauthorize(signer)
	return s
}

// Reauthorize swaps in a new signing identity. A nil signer is the same as
// Revoke.
func (s *Service) Reauthorize(signer ledger.Signer) {
	if signer == nil {
		s.Revoke()
		return
	}
	s.signer.Store(&signerRef{s: signer})
	s.log.Info("signing identity attached", "address", signer.Address())
}

// Revoke drops the signing identity; writes fail with ErrUnauthorized until
// Reauthorize is called again.
func (s *Service) Revoke() {
	if old := s.signer.Swap(nil); old != nil {
		s.log.Info("signing identity removed", "address", old.s.Address())
	}
}

// Signer returns the current identity, or nil when read-only.
func (s *Service) Signer() ledger.Signer {
	if ref := s.signer.Load(); ref != nil {
		return ref.s
	}
	return nil
}

// InFlight lists product ids with a transition awaiting confirmation.
func (s *Service) InFlight() []uint64 {
	s.mu.Lock()
	out := make([]uint64, 0, len(s.inflight))
	for id := range s.inflight {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Service) acquire(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	s.setInFlight(len(s.inflight))
	return true
}

func (s *Service) release(id uint64) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.setInFlight(len(s.inflight))
	s.mu.Unlock()
}

func (s *Service) setInFlight(n int) {
	if s.met != nil {
		s.met.SetInFlight(n)
	}
}

// Transition is the result of a confirmed status change.
type Transition struct {
	ProductID uint64           `json:"product_id"`
	Status    products.Status  `json:"status"`
	Tx        ledger.PendingTx `json:"tx"`
	Receipt   ledger.Receipt   `json:"receipt"`
	// Outcome reports whether the local cache took the update.
	Outcome catalog.ApplyOutcome `json:"-"`
}

// RequestTransition sets product id to status on the ledger. At most one
// transition per id is in flight; a second one fails with ErrConflict.
// Any status may follow any other.
func (s *Service) RequestTransition(ctx context.Context, id uint64, status products.Status) (t Transition, err error) {
	defer func() { s.observe("transition", err) }()
	op := fmt.Sprintf("transition %d to %s", id, status)

	signer := s.Signer()
	if signer == nil {
		return Transition{}, fmt.Errorf("%s: %w", op, products.ErrUnauthorized)
	}
	if !status.Valid() {
		return Transition{}, fmt.Errorf("%s: %w: unknown status", op, products.ErrValidation)
	}
	if !s.acquire(id) {
		return Transition{}, fmt.Errorf("%s: %w", op, products.ErrConflict)
	}
	defer s.release(id)

	gen := s.repo.Generation()
	t = Transition{ProductID: id, Status: status}
	t.Tx, err = s.gw.SubmitStatusUpdate(ctx, signer, id, status)
	if err != nil {
		return t, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("transition submitted", "product_id", id, "status", status.Ident(), "tx", t.Tx.Hash)

	t.Receipt, err = s.gw.AwaitConfirmation(ctx, t.Tx)
	if err != nil {
		return t, fmt.Errorf("%s: %w", op, err)
	}
	at := t.Receipt.ConfirmedAt
	if at.IsZero() {
		at = s.now()
	}
	t.Outcome = s.repo.ApplyConfirmedTransition(gen, id, status, at)
	s.log.Info("transition confirmed", "product_id", id, "status", status.Ident(),
		"tx", t.Tx.Hash, "block", t.Receipt.BlockNumber, "cache", t.Outcome.String())

	s.publish(ctx, products.EventProductStatusChanged, strconv.FormatUint(id, 10), products.PartitionKey(id),
		products.StatusChangedPayload{
			ProductID:  id,
			Status:     status,
			ObservedAt: at.Unix(),
			TxHash:     t.Tx.Hash,
			Signer:     signer.Address(),
		})
	return t, nil
}

// Creation is the result of a confirmed product registration. Product is
// set when the follow-up reload found the new record.
type Creation struct {
	Tx       ledger.PendingTx  `json:"tx"`
	Receipt  ledger.Receipt    `json:"receipt"`
	Product  *products.Product `json:"product,omitempty"`
	Reloaded bool              `json:"reloaded"`
}

// CreateProduct registers a product and reloads the catalog once the ledger
// confirms it.
func (s *Service) CreateProduct(ctx context.Context, name, origin string) (c Creation, err error) {
	defer func() { s.observe("create", err) }()

	signer := s.Signer()
	if signer == nil {
		return Creation{}, fmt.Errorf("create product: %w", products.ErrUnauthorized)
	}
	name, origin = strings.TrimSpace(name), strings.TrimSpace(origin)
	if name == "" || origin == "" {
		return Creation{}, fmt.Errorf("create product: %w: name and origin are required", products.ErrValidation)
	}

	c.Tx, err = s.gw.SubmitCreate(ctx, signer, name, origin)
	if err != nil {
		return c, fmt.Errorf("create product: %w", err)
	}
	c.Receipt, err = s.gw.AwaitConfirmation(ctx, c.Tx)
	if err != nil {
		return c, fmt.Errorf("create product: %w", err)
	}
	s.log.Info("product created", "tx", c.Tx.Hash, "block", c.Receipt.BlockNumber)

	s.publish(ctx, products.EventProductCreated, c.Tx.Hash, []byte(c.Tx.Hash),
		products.ProductCreatedPayload{TxHash: c.Tx.Hash, Name: name, Origin: origin, Signer: signer.Address()})

	snap, rerr := s.repo.ReloadAll(ctx)
	switch {
	case rerr == nil:
		c.Reloaded = true
		c.Product = findCreated(snap, name, origin, c.Receipt.ConfirmedAt)
	case errors.Is(rerr, catalog.ErrSuperseded):
		c.Reloaded = true
		c.Product = findCreated(s.repo.Snapshot(), name, origin, c.Receipt.ConfirmedAt)
	default:
		s.log.Warn("reload after create failed", "tx", c.Tx.Hash, "err", rerr)
	}
	return c, nil
}

func findCreated(snap catalog.Snapshot, name, origin string, at time.Time) *products.Product {
	items := snap.Products()
	for i := len(items) - 1; i >= 0; i-- {
		p := items[i]
		if p.Name == name && p.Origin == origin && (at.IsZero() || p.CreatedAt == at.Unix()) {
			cp := p.Clone()
			return &cp
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType, correlationID string, key []byte, payload any) {
	if s.pub == nil {
		return
	}
	env, err := products.NewEnvelope(eventType, s.name, correlationID, traceID(ctx), payload)
	if err != nil {
		s.log.Error("build envelope", "event", eventType, "err", err)
		return
	}
	if err := s.pub.Publish(ctx, products.TopicFor(eventType), key, env); err != nil {
		s.log.Warn("publish event", "event", eventType, "event_id", env.EventID, "err", err)
	}
}

func (s *Service) observe(op string, err error) {
	if s.met != nil {
		s.met.ObserveTransition(op, err)
	}
}

type traceKey struct{}

// WithTraceID attaches a trace id that is copied into published envelopes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
)

// Memory is an in-process SupplyChain contract. Transactions are mined on
// submission unless WithManualMining is set, in which case they stay pending
// until Mine, MineAll or Reject is called.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	manual    bool
	offline   bool
	records   []memProduct
	overrides map[uint64]products.RawHistory
	txs       map[string]*memTx
	order     []string
	seq       uint64
	block     uint64
}

type memProduct struct {
	rec        products.Record
	statuses   []uint8
	timestamps []uint64
}

type memTx struct {
	pending PendingTx
	apply   func(at uint64) error
	done    chan struct{}
	receipt Receipt
	err     error
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func WithManualMining() MemoryOption {
	return func(m *Memory) { m.manual = true }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:       time.Now,
		overrides: map[uint64]products.RawHistory{},
		txs:       map[string]*memTx{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetOffline makes every call fail with ErrConnectivity until switched back.
func (m *Memory) SetOffline(off bool) {
	m.mu.Lock()
	m.offline = off
	m.mu.Unlock()
}

// SetHistory overrides what FetchHistory returns for id.
func (m *Memory) SetHistory(id uint64, h products.RawHistory) {
	m.mu.Lock()
	m.overrides[id] = h
	m.mu.Unlock()
}

// Seed registers a product directly, without a transaction, and returns its id.
func (m *Memory) Seed(name, origin string, transitions ...products.Status) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.stamp()
	id := m.create(name, origin, at)
	for _, s := range transitions {
		_ = m.update(id, s, at)
	}
	return id
}

func (m *Memory) Count(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reachable(ctx, "count"); err != nil {
		return 0, err
	}
	return uint64(len(m.records)), nil
}

func (m *Memory) FetchRecord(ctx context.Context, id uint64) (products.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := fmt.Sprintf("fetch record %d", id)
	if err := m.reachable(ctx, op); err != nil {
		return products.Record{}, err
	}
	if id >= uint64(len(m.records)) {
		return products.Record{}, fmt.Errorf("%s: %w", op, products.ErrNotFound)
	}
	return m.records[id].rec, nil
}

func (m *Memory) FetchHistory(ctx context.Context, id uint64) (products.RawHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := fmt.Sprintf("fetch history %d", id)
	if err := m.reachable(ctx, op); err != nil {
		return products.RawHistory{}, err
	}
	if id >= uint64(len(m.records)) {
		return products.RawHistory{}, fmt.Errorf("%s: %w", op, products.ErrNotFound)
	}
	if h, ok := m.overrides[id]; ok {
		return products.RawHistory{
			Statuses:   append([]uint8(nil), h.Statuses...),
			Timestamps: append([]uint64(nil), h.Timestamps...),
		}, nil
	}
	p := m.records[id]
	return products.RawHistory{
		Statuses:   append([]uint8(nil), p.statuses...),
		Timestamps: append([]uint64(nil), p.timestamps...),
	}, nil
}

func (m *Memory) SubmitCreate(ctx context.Context, s Signer, name, origin string) (PendingTx, error) {
	if err := requireSigner("submit create", s); err != nil {
		return PendingTx{}, err
	}
	if err := validateCreate(name, origin); err != nil {
		return PendingTx{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reachable(ctx, "submit create"); err != nil {
		return PendingTx{}, err
	}
	return m.submit(s, func(at uint64) error {
		m.create(name, origin, at)
		return nil
	}), nil
}

func (m *Memory) SubmitStatusUpdate(ctx context.Context, s Signer, id uint64, status products.Status) (PendingTx, error) {
	op := fmt.Sprintf("submit status update %d", id)
	if err := requireSigner(op, s); err != nil {
		return PendingTx{}, err
	}
	if err := validateStatus(status); err != nil {
		return PendingTx{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reachable(ctx, op); err != nil {
		return PendingTx{}, err
	}
	if id >= uint64(len(m.records)) {
		return PendingTx{}, fmt.Errorf("%s: %w", op, products.ErrNotFound)
	}
	return m.submit(s, func(at uint64) error { return m.update(id, status, at) }), nil
}

func (m *Memory) AwaitConfirmation(ctx context.Context, p PendingTx) (Receipt, error) {
	op := "await " + p.Hash
	m.mu.Lock()
	tx, ok := m.txs[p.Hash]
	if !ok {
		m.mu.Unlock()
		return Receipt{}, fmt.Errorf("%s: %w: unknown transaction", op, products.ErrNotFound)
	}
	if err := m.reachable(ctx, op); err != nil {
		m.mu.Unlock()
		return Receipt{}, err
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return Receipt{}, fmt.Errorf("%s: %w", op, ctx.Err())
	case <-tx.done:
	}
	if tx.err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", op, tx.err)
	}
	return tx.receipt, nil
}

// Pending lists unmined transactions in submission order.
func (m *Memory) Pending() []PendingTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingTx
	for _, h := range m.order {
		if tx := m.txs[h]; !isDone(tx) {
			out = append(out, tx.pending)
		}
	}
	return out
}

// Mine confirms one pending transaction.
func (m *Memory) Mine(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[hash]
	if !ok || isDone(tx) {
		return fmt.Errorf("mine %s: %w: not pending", hash, products.ErrNotFound)
	}
	m.mine(tx)
	return nil
}

// MineAll confirms every pending transaction and returns how many it mined.
func (m *Memory) MineAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.order {
		if tx := m.txs[h]; !isDone(tx) {
			m.mine(tx)
			n++
		}
	}
	return n
}

// Reject fails a pending transaction as if the ledger reverted it.
func (m *Memory) Reject(hash, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[hash]
	if !ok || isDone(tx) {
		return fmt.Errorf("reject %s: %w: not pending", hash, products.ErrNotFound)
	}
	tx.err = fmt.Errorf("%w: %s", products.ErrTransactionRejected, reason)
	close(tx.done)
	return nil
}

func (m *Memory) submit(s Signer, apply func(at uint64) error) PendingTx {
	m.seq++
	tx := &memTx{
		pending: PendingTx{
			Hash:        fmt.Sprintf("0x%064x", m.seq),
			From:        s.Address(),
			SubmittedAt: m.now().UTC(),
		},
		apply: apply,
		done:  make(chan struct{}),
	}
	m.txs[tx.pending.Hash] = tx
	m.order = append(m.order, tx.pending.Hash)
	if !m.manual {
		m.mine(tx)
	}
	return tx.pending
}

func (m *Memory) mine(tx *memTx) {
	at := m.stamp()
	m.block++
	if err := tx.apply(at); err != nil {
		tx.err = fmt.Errorf("%w: %w", products.ErrTransactionRejected, err)
	} else {
		tx.receipt = Receipt{
			Hash:        tx.pending.Hash,
			BlockNumber: m.block,
			ConfirmedAt: time.Unix(int64(at), 0).UTC(),
		}
	}
	close(tx.done)
}

func (m *Memory) create(name, origin string, at uint64) uint64 {
	id := uint64(len(m.records))
	m.records = append(m.records, memProduct{
		rec: products.Record{
			ID:            id,
			Name:          name,
			Origin:        origin,
			CreatedAt:     at,
			CurrentStatus: uint8(products.StatusCreated),
		},
		statuses:   []uint8{uint8(products.StatusCreated)},
		timestamps: []uint64{at},
	})
	return id
}

func (m *Memory) update(id uint64, status products.Status, at uint64) error {
	if id >= uint64(len(m.records)) {
		return fmt.Errorf("update %d: %w", id, products.ErrNotFound)
	}
	p := &m.records[id]
	p.rec.CurrentStatus = uint8(status)
	p.statuses = append(p.statuses, uint8(status))
	p.timestamps = append(p.timestamps, at)
	return nil
}

func (m *Memory) stamp() uint64 {
	return uint64(m.now().Unix())
}

func (m *Memory) reachable(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if m.offline {
		return fmt.Errorf("%s: %w", op, products.ErrConnectivity)
	}
	return nil
}

func isDone(tx *memTx) bool {
	select {
	case <-tx.done:
		return true
	default:
		return false
	}
}

package catalog

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/ledger"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
)

func seeded(t *testing.T) *ledger.Memory {
	t.Helper()
	clock := int64(1700000000)
	m := ledger.NewMemory(ledger.WithClock(func() time.Time {
		clock += 10
		return time.Unix(clock, 0)
	}))
	m.Seed("Box A", "Factory-A")
	m.Seed("Box B", "Port", products.StatusInTransit, products.StatusDelivered)
	m.Seed("Crate", "Warehouse", products.StatusInTransit)
	m.Seed("Widget", "Factory-A")
	return m
}

func TestReloadAllBuildsConsistentSnapshot(t *testing.T) {
	repo := New(seeded(t), Options{Concurrency: 3})
	snap, err := repo.ReloadAll(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if snap.Len() != 4 || snap.Generation != 1 {
		t.Fatalf("len=%d gen=%d", snap.Len(), snap.Generation)
	}
	for i, p := range snap.Products() {
		if p.ID != uint64(i) {
			t.Fatalf("products out of id order at %d: %d", i, p.ID)
		}
		if len(p.History) == 0 {
			t.Fatalf("product %d has empty history", p.ID)
		}
		if p.History[0].Status != products.StatusCreated || p.History[0].Timestamp != p.CreatedAt {
			t.Fatalf("product %d first event %+v createdAt %d", p.ID, p.History[0], p.CreatedAt)
		}
		for j := 1; j < len(p.History); j++ {
			if p.History[j].Timestamp < p.History[j-1].Timestamp {
				t.Fatalf("product %d history decreasing", p.ID)
			}
		}
		if p.CurrentStatus != p.History[len(p.History)-1].Status {
			t.Fatalf("product %d current status %v", p.ID, p.CurrentStatus)
		}
	}
	if p, _ := snap.Get(1); p.CurrentStatus != products.StatusDelivered || len(p.History) != 3 {
		t.Fatalf("product 1=%+v", p)
	}
}

func TestReloadAllIsIdempotent(t *testing.T) {
	repo := New(seeded(t), Options{})
	a, err := repo.ReloadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := repo.ReloadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Products(), b.Products()) {
		t.Fatalf("snapshots differ:\n%+v\n%+v", a.Products(), b.Products())
	}
	if b.Generation != a.Generation+1 {
		t.Fatalf("generation %d -> %d", a.Generation, b.Generation)
	}
}

func TestReloadAllIsAllOrNothing(t *testing.T) {
	m := seeded(t)
	repo := New(m, Options{Concurrency: 2})
	before, err := repo.ReloadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	m.SetHistory(2, products.RawHistory{Statuses: []uint8{0, 1, 2}, Timestamps: []uint64{1, 2}})
	if _, err := repo.ReloadAll(context.Background()); !errors.Is(err, products.ErrMalformedHistory) {
		t.Fatalf("want ErrMalformedHistory, got %v", err)
	}
	if !reflect.DeepEqual(repo.Snapshot(), before) {
		t.Fatal("failed reload changed the cache")
	}

	m.SetOffline(true)
	if _, err := repo.ReloadAll(context.Background()); !errors.Is(err, products.ErrConnectivity) {
		t.Fatalf("want ErrConnectivity, got %v", err)
	}
	if repo.Generation() != before.Generation {
		t.Fatalf("generation moved to %d", repo.Generation())
	}
}

func TestApplyConfirmedTransition(t *testing.T) {
	repo := New(seeded(t), Options{})
	before, _ := repo.ReloadAll(context.Background())
	at := time.Unix(1800000000, 0)

	if got := repo.ApplyConfirmedTransition(before.Generation, 3, products.StatusInTransit, at); got != Applied {
		t.Fatalf("outcome=%v", got)
	}
	p, _ := repo.Snapshot().Get(3)
	if p.CurrentStatus != products.StatusInTransit {
		t.Fatalf("status=%v", p.CurrentStatus)
	}
	if last := p.History[len(p.History)-1]; last.Timestamp != at.Unix() || last.Status != products.StatusInTransit {
		t.Fatalf("last event=%+v", last)
	}
	if old, _ := before.Get(3); old.CurrentStatus != products.StatusCreated || len(old.History) != 1 {
		t.Fatalf("earlier snapshot was mutated: %+v", old)
	}

	if got := repo.ApplyConfirmedTransition(before.Generation, 42, products.StatusDelivered, at); got != SkippedUnknown {
		t.Fatalf("outcome=%v", got)
	}
}

func TestApplyAfterNewerReloadIsDropped(t *testing.T) {
	repo := New(seeded(t), Options{})
	first, _ := repo.ReloadAll(context.Background())
	if _, err := repo.ReloadAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := repo.ApplyConfirmedTransition(first.Generation, 0, products.StatusDelivered, time.Now()); got != SkippedStale {
		t.Fatalf("outcome=%v", got)
	}
	if p, _ := repo.Snapshot().Get(0); p.CurrentStatus != products.StatusCreated {
		t.Fatalf("stale write applied: %+v", p)
	}
}

// gatedReader blocks the first Count call until release is closed.
type gatedReader struct {
	ledger.Reader
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedReader) Count(ctx context.Context) (uint64, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return g.Reader.Count(ctx)
}

func TestOlderReloadCannotOverwriteNewer(t *testing.T) {
	gr := &gatedReader{Reader: seeded(t), entered: make(chan struct{}), release: make(chan struct{})}
	repo := New(gr, Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := repo.ReloadAll(context.Background())
		errc <- err
	}()
	<-gr.entered

	newer, err := repo.ReloadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	close(gr.release)
	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("want ErrSuperseded, got %v", err)
	}
	if repo.Generation() != newer.Generation {
		t.Fatalf("generation=%d want %d", repo.Generation(), newer.Generation)
	}
}

func TestClosedRepositoryDropsResults(t *testing.T) {
	repo := New(seeded(t), Options{})
	snap, _ := repo.ReloadAll(context.Background())
	repo.Close()

	if _, err := repo.ReloadAll(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if got := repo.ApplyConfirmedTransition(snap.Generation, 0, products.StatusDelivered, time.Now()); got != SkippedClosed {
		t.Fatalf("outcome=%v", got)
	}
	if repo.Generation() != snap.Generation {
		t.Fatal("closed repository changed")
	}
}

type closingObserver struct{ repo *Repository }

func (o *closingObserver) ObserveReload(time.Duration, int, error) { o.repo.Close() }

func TestCloseDuringReloadSkipsCommitAndHooks(t *testing.T) {
	m := seeded(t)
	obs := &closingObserver{}
	repo := New(m, Options{Observer: obs})
	obs.repo = repo
	hooks := 0
	repo.OnReload(func(Snapshot) { hooks++ })

	if _, err := repo.ReloadAll(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if hooks != 0 || repo.Generation() != 0 || repo.Snapshot().Len() != 0 {
		t.Fatalf("closed repository committed: hooks=%d gen=%d len=%d",
			hooks, repo.Generation(), repo.Snapshot().Len())
	}
}

func TestSnapshotCopiesAreIsolated(t *testing.T) {
	repo := New(seeded(t), Options{})
	if _, err := repo.ReloadAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	s := repo.Snapshot()
	items := s.Products()
	items[0].CurrentStatus = products.StatusDelivered
	items[0].History[0].Timestamp = 1
	items[0].History = append(items[0].History, products.StatusEvent{Status: products.StatusDelivered})
	p, _ := s.Get(2)
	p.Name = "changed"
	p.History[0].Status = products.StatusDelivered

	fresh := repo.Snapshot()
	got, _ := fresh.Get(0)
	if got.CurrentStatus != products.StatusCreated || len(got.History) != 1 || got.History[0].Timestamp == 1 {
		t.Fatalf("product 0 mutated through snapshot: %+v", got)
	}
	if got.CurrentStatus != got.History[len(got.History)-1].Status {
		t.Fatalf("product 0 current status diverged from history: %+v", got)
	}
	got, _ = fresh.Get(2)
	if got.Name != "Crate" || got.History[0].Status != products.StatusCreated {
		t.Fatalf("product 2 mutated through Get: %+v", got)
	}
	if again, _ := s.Get(0); again.History[0].Timestamp == 1 {
		t.Fatal("held snapshot mutated by its own caller")
	}
}

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) ObserveReload(_ time.Duration, _ int, err error) {
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func TestHooksAndObserver(t *testing.T) {
	m := seeded(t)
	obs := &countingObserver{}
	repo := New(m, Options{Observer: obs})
	var seen []uint64
	repo.OnReload(func(s Snapshot) { seen = append(seen, s.Generation) })

	_, _ = repo.ReloadAll(context.Background())
	m.SetOffline(true)
	_, _ = repo.ReloadAll(context.Background())

	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("hook calls=%v", seen)
	}
	if obs.ok != 1 || obs.failed != 1 {
		t.Fatalf("observer=%+v", obs)
	}
}

func TestRestoreOnlySeedsEmptyRepository(t *testing.T) {
	repo := New(seeded(t), Options{})
	cached := []products.Product{{ID: 0, Name: "Old", History: []products.StatusEvent{{Status: products.StatusCreated}}}}

	if !repo.Restore(cached, time.Unix(5, 0)) {
		t.Fatal("restore refused on empty repository")
	}
	if p, ok := repo.Snapshot().Get(0); !ok || p.Name != "Old" {
		t.Fatalf("restored=%+v", p)
	}
	if _, err := repo.ReloadAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if repo.Restore(cached, time.Now()) {
		t.Fatal("restore must not overwrite loaded data")
	}
	if p, _ := repo.Snapshot().Get(0); p.Name != "Box A" {
		t.Fatalf("name=%q", p.Name)
	}
}

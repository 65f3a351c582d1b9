package products

import (
	"errors"
	"testing"
)

func TestReconstructHistoryKeepsLedgerOrder(t *testing.T) {
	events, warns, err := ReconstructHistory(7, []uint8{0, 1, 2}, []uint64{100, 200, 300})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(warns) != 0 {
		t.Fatalf("expected no warnings, got %v", warns)
	}
	want := []StatusEvent{{StatusCreated, 100}, {StatusInTransit, 200}, {StatusDelivered, 300}}
	if len(events) != len(want) {
		t.Fatalf("len=%d want %d", len(events), len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d]=%+v want %+v", i, events[i], want[i])
		}
	}
}

func TestReconstructHistoryMalformed(t *testing.T) {
	cases := []struct {
		name       string
		statuses   []uint8
		timestamps []uint64
	}{
		{"length mismatch", []uint8{0, 1, 2}, []uint64{1, 2}},
		{"empty", nil, nil},
		{"unknown code", []uint8{0, 9}, []uint64{1, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, _, err := ReconstructHistory(3, tc.statuses, tc.timestamps)
			if !errors.Is(err, ErrMalformedHistory) {
				t.Fatalf("expected ErrMalformedHistory, got %v", err)
			}
			var mh *MalformedHistoryError
			if !errors.As(err, &mh) || mh.ProductID != 3 {
				t.Fatalf("expected *MalformedHistoryError for product 3, got %#v", err)
			}
			if events != nil {
				t.Fatalf("expected no events, got %v", events)
			}
		})
	}
}

func TestReconstructHistoryFlagsDecreasingTimestamps(t *testing.T) {
	events, warns, err := ReconstructHistory(1, []uint8{0, 1, 2}, []uint64{100, 90, 120})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(warns) != 1 || warns[0].Index != 1 || warns[0].Previous != 100 || warns[0].Current != 90 {
		t.Fatalf("unexpected warnings: %+v", warns)
	}
	if events[1].Timestamp != 90 {
		t.Fatalf("history must not be re-sorted, got %+v", events)
	}
}

func TestAssembleChecksInvariants(t *testing.T) {
	rec := Record{ID: 2, Name: "Box", Origin: "Factory-A", CreatedAt: 100, CurrentStatus: 1}

	p, _, err := Assemble(rec, RawHistory{Statuses: []uint8{0, 1}, Timestamps: []uint64{100, 150}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.CurrentStatus != StatusInTransit || len(p.History) != 2 || p.CreatedAt != 100 {
		t.Fatalf("unexpected product: %+v", p)
	}

	bad := []RawHistory{
		{Statuses: []uint8{0, 2}, Timestamps: []uint64{100, 150}},
		{Statuses: []uint8{1, 1}, Timestamps: []uint64{100, 150}},
		{Statuses: []uint8{0, 1}, Timestamps: []uint64{99, 150}},
	}
	for i, h := range bad {
		if _, _, err := Assemble(rec, h); !errors.Is(err, ErrMalformedHistory) {
			t.Fatalf("case %d: expected ErrMalformedHistory, got %v", i, err)
		}
	}
}

func TestWithTransitionDoesNotAlias(t *testing.T) {
	p := Product{ID: 1, CurrentStatus: StatusCreated, History: make([]StatusEvent, 1, 8)}
	p.History[0] = StatusEvent{StatusCreated, 10}

	a := p.WithTransition(StatusInTransit, 20)
	b := p.WithTransition(StatusDelivered, 30)

	if a.History[1].Status != StatusInTransit || b.History[1].Status != StatusDelivered {
		t.Fatalf("histories alias each other: %+v %+v", a.History, b.History)
	}
	if len(p.History) != 1 || p.CurrentStatus != StatusCreated {
		t.Fatalf("original mutated: %+v", p)
	}
}

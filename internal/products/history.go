package products

import (
	"fmt"
	"math"
)

// OrderingWarning flags a history entry whose timestamp is earlier than the
// one before it. The ledger order is kept as is.
type OrderingWarning struct {
	ProductID uint64
	Index     int
	Previous  int64
	Current   int64
}

func (w OrderingWarning) String() string {
	return fmt.Sprintf("product %d: history[%d] timestamp %d precedes previous %d",
		w.ProductID, w.Index, w.Current, w.Previous)
}

// ReconstructHistory zips the ledger's parallel status and timestamp arrays
// into an ordered timeline. It never re-sorts.
func ReconstructHistory(id uint64, statuses []uint8, timestamps []uint64) ([]StatusEvent, []OrderingWarning, error) {
	malformed := func(reason string) error {
		return &MalformedHistoryError{
			ProductID:  id,
			Reason:     reason,
			Statuses:   len(statuses),
			Timestamps: len(timestamps),
		}
	}
	if len(statuses) != len(timestamps) {
		return nil, nil, malformed("length mismatch")
	}
	if len(statuses) == 0 {
		return nil, nil, malformed("empty history")
	}

	events := make([]StatusEvent, len(statuses))
	var warns []OrderingWarning
	for i, code := range statuses {
		st := Status(code)
		if !st.Valid() {
			return nil, nil, malformed(fmt.Sprintf("unknown status code %d at index %d", code, i))
		}
		if timestamps[i] > math.MaxInt64 {
			return nil, nil, malformed(fmt.Sprintf("timestamp overflow at index %d", i))
		}
		ts := int64(timestamps[i])
		if i > 0 && ts < events[i-1].Timestamp {
			warns = append(warns, OrderingWarning{
				ProductID: id,
				Index:     i,
				Previous:  events[i-1].Timestamp,
				Current:   ts,
			})
		}
		events[i] = StatusEvent{Status: st, Timestamp: ts}
	}
	return events, warns, nil
}

// Assemble builds the view model for one product and checks that the record
// and its history agree with each other.
func Assemble(rec Record, h RawHistory) (Product, []OrderingWarning, error) {
	events, warns, err := ReconstructHistory(rec.ID, h.Statuses, h.Timestamps)
	if err != nil {
		return Product{}, nil, err
	}
	malformed := func(reason string) error {
		return &MalformedHistoryError{
			ProductID:  rec.ID,
			Reason:     reason,
			Statuses:   len(h.Statuses),
			Timestamps: len(h.Timestamps),
		}
	}

	current := Status(rec.CurrentStatus)
	switch {
	case !current.Valid():
		return Product{}, nil, malformed(fmt.Sprintf("unknown current status code %d", rec.CurrentStatus))
	case rec.CreatedAt > math.MaxInt64:
		return Product{}, nil, malformed("createdAt overflow")
	case events[0].Status != StatusCreated:
		return Product{}, nil, malformed("first event is " + events[0].Status.String())
	case events[0].Timestamp != int64(rec.CreatedAt):
		return Product{}, nil, malformed("first event timestamp differs from createdAt")
	case events[len(events)-1].Status != current:
		return Product{}, nil, malformed("current status differs from last event")
	}

	return Product{
		ID:            rec.ID,
		Name:          rec.Name,
		Origin:        rec.Origin,
		CreatedAt:     int64(rec.CreatedAt),
		CurrentStatus: current,
		History:       events,
	}, warns, nil
}

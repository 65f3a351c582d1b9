package products

import (
	"errors"
	"fmt"
)

var (
	ErrConnectivity        = errors.New("ledger unreachable")
	ErrNotFound            = errors.New("product not found")
	ErrValidation          = errors.New("invalid input")
	ErrUnauthorized        = errors.New("no signing identity")
	ErrTransactionRejected = errors.New("transaction rejected")
	ErrConflict            = errors.New("transition already in flight")
	ErrMalformedHistory    = errors.New("malformed history")
)

// MalformedHistoryError reports a ledger history that violates the product
// invariants. It matches ErrMalformedHistory under errors.Is.
type MalformedHistoryError struct {
	ProductID  uint64
	Reason     string
	Statuses   int
	Timestamps int
}

func (e *MalformedHistoryError) Error() string {
	return fmt.Sprintf("product %d: malformed history: %s (statuses=%d timestamps=%d)",
		e.ProductID, e.Reason, e.Statuses, e.Timestamps)
}

func (e *MalformedHistoryError) Unwrap() error { return ErrMalformedHistory }

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrMalformedHistory,
		ErrConflict,
		ErrUnauthorized,
		ErrValidation,
		ErrNotFound,
		ErrTransactionRejected,
		ErrConnectivity,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

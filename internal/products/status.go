package products

import (
	"fmt"
	"strconv"
	"strings"
)

// Status mirrors the on-ledger enum encoding.
type Status uint8

const (
	StatusCreated Status = iota
	StatusInTransit
	StatusDelivered
)

// statusCount is the number of values in the ledger enum.
const statusCount = 3

var statusLabels = [statusCount]string{"Created", "In Transit", "Delivered"}
var statusIdents = [statusCount]string{"Created", "InTransit", "Delivered"}

// AllStatuses returns the enum in ledger order.
func AllStatuses() []Status {
	return []Status{StatusCreated, StatusInTransit, StatusDelivered}
}

func (s Status) Valid() bool { return s < statusCount }

// String returns the display label.
func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
	return statusLabels[s]
}

// Ident returns the identifier form used on the wire, e.g. "InTransit".
func (s Status) Ident() string {
	if !s.Valid() {
		return strconv.Itoa(int(s))
	}
	return statusIdents[s]
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal status %d: %w", uint8(s), ErrValidation)
	}
	return []byte(s.Ident()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus accepts the display label, the identifier, a snake/kebab variant
// or the numeric ledger code.
func ParseStatus(raw string) (Status, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= statusCount {
			return 0, fmt.Errorf("parse status %q: %w: unknown code", raw, ErrValidation)
		}
		return Status(n), nil
	}
	norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s))
	for i, id := range statusIdents {
		if strings.ToLower(id) == norm {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("parse status %q: %w: unknown status", raw, ErrValidation)
}

// Package identity turns signing-identity changes into explicit events.
package identity

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ariefcatur/go-supplychain-tracker/internal/ledger"
)

type EventKind int

const (
	AccountChanged EventKind = iota + 1
	AccountRemoved
)

func (k EventKind) String() string {
	switch k {
	case AccountChanged:
		return "account_changed"
	case AccountRemoved:
		return "account_removed"
	}
	return "unknown"
}

type Event struct {
	Kind   EventKind
	Signer ledger.Signer // set for AccountChanged
}

// Authorizer is whatever holds the signing identity for writes.
type Authorizer interface {
	Reauthorize(ledger.Signer)
	Revoke()
}

// Apply hands one event to a. An AccountChanged event without a signer is
// treated as a removal.
func Apply(a Authorizer, ev Event) {
	if ev.Kind == AccountChanged && ev.Signer != nil {
		a.Reauthorize(ev.Signer)
		return
	}
	a.Revoke()
}

// Follow applies events until ctx ends or events is closed.
func Follow(ctx context.Context, events <-chan Event, a Authorizer, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			log.Info("identity event", "kind", ev.Kind.String())
			Apply(a, ev)
		}
	}
}

// FromKey derives the event for a configured private key: a usable key
// yields AccountChanged, an empty one AccountRemoved.
func FromKey(hexKey string, chainID int64) (Event, error) {
	if strings.TrimSpace(hexKey) == "" {
		return Event{Kind: AccountRemoved}, nil
	}
	s, err := ledger.NewKeySigner(hexKey, chainID)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: AccountChanged, Signer: s}, nil
}

// Package ledger is the only code that talks to the SupplyChain contract.
// Reads are unauthenticated; every write takes the signing identity as an
// explicit argument. Nothing here retries.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

// PendingTx is the handle of a submitted, not yet confirmed transaction.
type PendingTx struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Receipt describes a confirmed transaction. ConfirmedAt is the ledger's
// timestamp for the block that included it.
type Receipt struct {
	Hash        string    `json:"hash"`
	BlockNumber uint64    `json:"block_number"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Signer is a credential able to authorize state-changing calls.
type Signer interface {
	Address() string
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

type Reader interface {
	Count(ctx context.Context) (uint64, error)
	FetchRecord(ctx context.Context, id uint64) (products.Record, error)
	FetchHistory(ctx context.Context, id uint64) (products.RawHistory, error)
}

type Writer interface {
	SubmitCreate(ctx context.Context, s Signer, name, origin string) (PendingTx, error)
	SubmitStatusUpdate(ctx context.Context, s Signer, id uint64, status products.Status) (PendingTx, error)
	AwaitConfirmation(ctx context.Context, tx PendingTx) (Receipt, error)
}

type Gateway interface {
	Reader
	Writer
}

func requireSigner(op string, s Signer) error {
	if s == nil {
		return fmt.Errorf("%s: %w", op, products.ErrUnauthorized)
	}
	return nil
}

func validateCreate(name, origin string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("submit create: %w: name is empty", products.ErrValidation)
	}
	if strings.TrimSpace(origin) == "" {
		return fmt.Errorf("submit create: %w: origin is empty", products.ErrValidation)
	}
	return nil
}

func validateStatus(status products.Status) error {
	if !status.Valid() {
		return fmt.Errorf("submit status update: %w: unknown status %d", products.ErrValidation, uint8(status))
	}
	return nil
}

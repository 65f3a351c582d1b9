package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

type ClientConfig struct {
	RPCURL          string
	ContractAddress string
	PollInterval    time.Duration
}

// Client is the JSON-RPC implementation of Gateway.
type Client struct {
	eth       *ethclient.Client
	contract  *bind.BoundContract
	address   common.Address
	pollEvery time.Duration
}

func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("dial ledger: %w: bad contract address %q", products.ErrValidation, cfg.ContractAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(SupplyChainABI))
	if err != nil {
		return nil, fmt.Errorf("dial ledger: parse abi: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger %s: %w: %w", cfg.RPCURL, products.ErrConnectivity, err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	addr := common.HexToAddress(cfg.ContractAddress)
	return &Client{
		eth:       eth,
		contract:  bind.NewBoundContract(addr, parsed, eth, eth, eth),
		address:   addr,
		pollEvery: cfg.PollInterval,
	}, nil
}

func (c *Client) Close() { c.eth.Close() }

func (c *Client) Address() string { return c.address.Hex() }

func (c *Client) Count(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodNextID); err != nil {
		return 0, readErr("count", err)
	}
	n := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !n.IsUint64() {
		return 0, fmt.Errorf("count: nextId %s out of range", n)
	}
	return n.Uint64(), nil
}

func (c *Client) FetchRecord(ctx context.Context, id uint64) (products.Record, error) {
	op := fmt.Sprintf("fetch record %d", id)
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodProducts, new(big.Int).SetUint64(id)); err != nil {
		return products.Record{}, readErr(op, err)
	}
	recID := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	createdAt := *abi.ConvertType(out[3], new(*big.Int)).(**big.Int)
	rec := products.Record{
		ID:            id,
		Name:          *abi.ConvertType(out[1], new(string)).(*string),
		Origin:        *abi.ConvertType(out[2], new(string)).(*string),
		CurrentStatus: *abi.ConvertType(out[4], new(uint8)).(*uint8),
	}
	// unset mapping slots come back zeroed
	if createdAt.Sign() == 0 && rec.Name == "" {
		return products.Record{}, fmt.Errorf("%s: %w", op, products.ErrNotFound)
	}
	if !recID.IsUint64() || recID.Uint64() != id || !createdAt.IsUint64() {
		return products.Record{}, fmt.Errorf("%s: inconsistent record id=%s createdAt=%s", op, recID, createdAt)
	}
	rec.CreatedAt = createdAt.Uint64()
	return rec, nil
}

func (c *Client) FetchHistory(ctx context.Context, id uint64) (products.RawHistory, error) {
	op := fmt.Sprintf("fetch history %d", id)
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGetHistory, new(big.Int).SetUint64(id)); err != nil {
		return products.RawHistory{}, readErr(op, err)
	}
	statuses := *abi.ConvertType(out[0], new([]uint8)).(*[]uint8)
	stamps := *abi.ConvertType(out[1], new([]*big.Int)).(*[]*big.Int)
	if len(statuses) == 0 && len(stamps) == 0 {
		// unset ids read as empty arrays; only the count tells them apart
		// from a registered product with a broken history
		n, err := c.Count(ctx)
		if err != nil {
			return products.RawHistory{}, fmt.Errorf("%s: %w", op, err)
		}
		if id >= n {
			return products.RawHistory{}, fmt.Errorf("%s: %w", op, products.ErrNotFound)
		}
	}

	h := products.RawHistory{Statuses: statuses, Timestamps: make([]uint64, len(stamps))}
	for i, ts := range stamps {
		if !ts.IsUint64() {
			return products.RawHistory{}, &products.MalformedHistoryError{
				ProductID:  id,
				Reason:     fmt.Sprintf("timestamp %s out of range at index %d", ts, i),
				Statuses:   len(statuses),
				Timestamps: len(stamps),
			}
		}
		h.Timestamps[i] = ts.Uint64()
	}
	return h, nil
}

func (c *Client) SubmitCreate(ctx context.Context, s Signer, name, origin string) (PendingTx, error) {
	if err := requireSigner("submit create", s); err != nil {
		return PendingTx{}, err
	}
	if err := validateCreate(name, origin); err != nil {
		return PendingTx{}, err
	}
	return c.transact(ctx, s, "submit create", methodCreateProduct, name, origin)
}

func (c *Client) SubmitStatusUpdate(ctx context.Context, s Signer, id uint64, status products.Status) (PendingTx, error) {
	if err := requireSigner("submit status update", s); err != nil {
		return PendingTx{}, err
	}
	if err := validateStatus(status); err != nil {
		return PendingTx{}, err
	}
	n, err := c.Count(ctx)
	if err != nil {
		return PendingTx{}, err
	}
	if id >= n {
		return PendingTx{}, fmt.Errorf("submit status update %d: %w", id, products.ErrNotFound)
	}
	return c.transact(ctx, s, fmt.Sprintf("submit status update %d", id), methodUpdateStatus,
		new(big.Int).SetUint64(id), uint8(status))
}

func (c *Client) transact(ctx context.Context, s Signer, op, method string, args ...interface{}) (PendingTx, error) {
	opts, err := s.TransactOpts(ctx)
	if err != nil {
		return PendingTx{}, fmt.Errorf("%s: %w: %w", op, products.ErrUnauthorized, err)
	}
	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return PendingTx{}, writeErr(op, err)
	}
	return PendingTx{
		Hash:        tx.Hash().Hex(),
		From:        opts.From.Hex(),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// AwaitConfirmation polls for the receipt until the transaction is mined or
// ctx ends.
func (c *Client) AwaitConfirmation(ctx context.Context, p PendingTx) (Receipt, error) {
	op := "await " + p.Hash
	hash := common.HexToHash(p.Hash)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		r, err := c.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return c.confirmed(ctx, op, r)
		case errors.Is(err, ethereum.NotFound):
		default:
			return Receipt{}, readErr(op, err)
		}
		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmed(ctx context.Context, op string, r *types.Receipt) (Receipt, error) {
	if r.Status == types.ReceiptStatusFailed {
		return Receipt{}, fmt.Errorf("%s: %w: reverted in block %s", op, products.ErrTransactionRejected, r.BlockNumber)
	}
	header, err := c.eth.HeaderByNumber(ctx, r.BlockNumber)
	if err != nil {
		return Receipt{}, readErr(op, err)
	}
	return Receipt{
		Hash:        r.TxHash.Hex(),
		BlockNumber: r.BlockNumber.Uint64(),
		ConfirmedAt: time.Unix(int64(header.Time), 0).UTC(),
	}, nil
}

// readErr maps a failed call: a revert means the id does not exist, anything
// else that is not the caller's own cancellation is a transport failure.
func readErr(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case isRevert(err):
		return fmt.Errorf("%s: %w: %w", op, products.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, products.ErrConnectivity, err)
	}
}

// writeErr maps a failed submission. A node that answered with a JSON-RPC
// error refused the transaction.
func writeErr(op string, err error) error {
	var rpcErr rpc.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case isRevert(err), errors.As(err, &rpcErr):
		return fmt.Errorf("%s: %w: %w", op, products.ErrTransactionRejected, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, products.ErrConnectivity, err)
	}
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

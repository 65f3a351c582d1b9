package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs with a raw secp256k1 key for a single chain.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	addr    common.Address
}

func NewKeySigner(hexKey string, chainID int64) (*KeySigner, error) {
	if chainID <= 0 {
		return nil, fmt.Errorf("key signer: invalid chain id %d", chainID)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("key signer: parse private key: %w", err)
	}
	return &KeySigner{
		key:     key,
		chainID: big.NewInt(chainID),
		addr:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *KeySigner) Address() string { return s.addr.Hex() }

func (s *KeySigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

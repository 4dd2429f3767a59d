// Package chain verifies on-chain funding proofs with go-ethereum.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// Reader is the subset of ethclient.Client the verifier needs.
type Reader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config controls what counts as a settled payment.
type Config struct {
	RPCURL           string
	ChainID          int64
	Treasury         string
	MinConfirmations uint64
	// WeiPerUnit converts transaction value to ledger minor units.
	WeiPerUnit *big.Int
}

// Verifier implements domain.PaymentVerifier. A proof is the hash of a
// native-currency transfer to the treasury.
type Verifier struct {
	reader   Reader
	signer   types.Signer
	treasury common.Address
	minConf  uint64
	perUnit  *big.Int
}

// Dial connects to the RPC endpoint and returns a Verifier with a close func.
func Dial(ctx context.Context, cfg Config) (*Verifier, func(), error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	v, err := NewVerifier(client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return v, client.Close, nil
}

// NewVerifier builds a Verifier over any Reader.
func NewVerifier(reader Reader, cfg Config) (*Verifier, error) {
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain: invalid chain id %d", cfg.ChainID)
	}
	if !common.IsHexAddress(cfg.Treasury) {
		return nil, fmt.Errorf("chain: invalid treasury address %q", cfg.Treasury)
	}
	perUnit := cfg.WeiPerUnit
	if perUnit == nil || perUnit.Sign() <= 0 {
		perUnit = big.NewInt(1)
	}
	minConf := cfg.MinConfirmations
	if minConf == 0 {
		minConf = 1
	}
	return &Verifier{
		reader:   reader,
		signer:   types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		treasury: common.HexToAddress(cfg.Treasury),
		minConf:  minConf,
		perUnit:  perUnit,
	}, nil
}

// Verify returns Valid=false, with no error, for proofs that do not describe
// a confirmed successful transfer to the treasury. Errors are reserved for
// RPC failures.
func (v *Verifier) Verify(ctx context.Context, proof string) (domain.Payment, error) {
	if !isTxHash(proof) {
		return domain.Payment{TxHash: proof}, nil
	}
	hash := common.HexToHash(proof)
	out := domain.Payment{TxHash: hash.Hex()}

	tx, pending, err := v.reader.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return out, nil
		}
		return out, fmt.Errorf("chain: get tx %s: %w", hash.Hex(), err)
	}
	if pending || tx.To() == nil {
		return out, nil
	}

	receipt, err := v.reader.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return out, nil
		}
		return out, fmt.Errorf("chain: get receipt %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful || receipt.BlockNumber == nil {
		return out, nil
	}

	head, err := v.reader.BlockNumber(ctx)
	if err != nil {
		return out, fmt.Errorf("chain: block number: %w", err)
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined || head-mined+1 < v.minConf {
		return out, nil
	}

	from, err := types.Sender(v.signer, tx)
	if err != nil {
		return out, nil
	}
	out.From = from.Hex()
	out.To = tx.To().Hex()
	if *tx.To() != v.treasury {
		return out, nil
	}

	units := new(big.Int).Quo(tx.Value(), v.perUnit)
	if !units.IsInt64() || units.Sign() <= 0 {
		return out, nil
	}
	out.Amount = units.Int64()
	out.Valid = true
	return out, nil
}

func isTxHash(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

var _ domain.PaymentVerifier = (*Verifier)(nil)

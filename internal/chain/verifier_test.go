package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testChainID = 137

type fakeReader struct {
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	head     uint64
	err      error
}

func (f *fakeReader) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (f *fakeReader) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payer := ethcrypto.PubkeyToAddress(key.PublicKey)
	treasury := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	elsewhere := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	signer := types.LatestSignerForChainID(big.NewInt(testChainID))
	makeTx := func(nonce uint64, to common.Address, value int64) *types.Transaction {
		tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    big.NewInt(value),
			Gas:      21000,
			GasPrice: big.NewInt(1),
		}), signer, key)
		if err != nil {
			t.Fatalf("sign tx: %v", err)
		}
		return tx
	}

	good := makeTx(0, treasury, 5000)
	wrongTo := makeTx(1, elsewhere, 5000)
	failed := makeTx(2, treasury, 5000)
	fresh := makeTx(3, treasury, 5000)

	reader := &fakeReader{
		txs: map[common.Hash]*types.Transaction{
			good.Hash(): good, wrongTo.Hash(): wrongTo, failed.Hash(): failed, fresh.Hash(): fresh,
		},
		receipts: map[common.Hash]*types.Receipt{
			good.Hash():    {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(90)},
			wrongTo.Hash(): {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(90)},
			failed.Hash():  {Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(90)},
			fresh.Hash():   {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)},
		},
		head: 100,
	}

	v, err := NewVerifier(reader, Config{
		ChainID:          testChainID,
		Treasury:         treasury.Hex(),
		MinConfirmations: 3,
		WeiPerUnit:       big.NewInt(10),
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	ctx := context.Background()

	t.Run("valid transfer", func(t *testing.T) {
		p, err := v.Verify(ctx, good.Hash().Hex())
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if !p.Valid {
			t.Fatalf("expected valid payment, got %+v", p)
		}
		if p.Amount != 500 {
			t.Fatalf("expected 500 units, got %d", p.Amount)
		}
		if p.From != payer.Hex() {
			t.Fatalf("expected sender %s, got %s", payer.Hex(), p.From)
		}
	})

	for name, proof := range map[string]string{
		"wrong recipient":   wrongTo.Hash().Hex(),
		"failed receipt":    failed.Hash().Hex(),
		"too few confirms":  fresh.Hash().Hex(),
		"unknown hash":      common.HexToHash("0x01").Hex(),
		"not a hash at all": "proof-123",
	} {
		t.Run(name, func(t *testing.T) {
			p, err := v.Verify(ctx, proof)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if p.Valid {
				t.Fatalf("expected invalid payment, got %+v", p)
			}
		})
	}

	t.Run("rpc failure surfaces as error", func(t *testing.T) {
		broken, err := NewVerifier(&fakeReader{err: errors.New("connection refused")}, Config{
			ChainID:  testChainID,
			Treasury: treasury.Hex(),
		})
		if err != nil {
			t.Fatalf("new verifier: %v", err)
		}
		if _, err := broken.Verify(ctx, good.Hash().Hex()); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("config is validated", func(t *testing.T) {
		for name, cfg := range map[string]Config{
			"missing chain id": {Treasury: treasury.Hex()},
			"bad treasury":     {ChainID: testChainID, Treasury: "treasury"},
		} {
			if _, err := NewVerifier(reader, cfg); err == nil {
				t.Fatalf("%s: expected error", name)
			}
		}
	})
}

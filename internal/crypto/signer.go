// Package crypto holds the EIP-712 bid authorisation scheme and HMAC
// signing for outbound webhooks.
package crypto

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Bid(address contributor,string target,uint256 amount,string proof)
	bidTypeHash = ethcrypto.Keccak256(
		[]byte("Bid(address contributor,string target,uint256 amount,string proof)"),
	)
)

const (
	domainName    = "Spotlight"
	domainVersion = "1"
)

// BidDigest returns the EIP-712 digest a wallet signs to authorise a bid.
func BidDigest(chainID int64, intent domain.BidIntent) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			bidTypeHash,
			common.LeftPadBytes(common.HexToAddress(intent.Contributor).Bytes(), 32),
			ethcrypto.Keccak256([]byte(intent.TargetID)),
			bigIntTo32Bytes(big.NewInt(intent.Amount)),
			ethcrypto.Keccak256([]byte(intent.Proof)),
		),
	)
	return eip712Hash(domainSeparator(chainID), structHash)
}

// Signer signs bid intents with a local key. Wallets do this client side;
// Signer exists for tooling and tests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignBid returns a hex-encoded 65-byte signature (r || s || v, v in {27,28}).
func (s *Signer) SignBid(intent domain.BidIntent) (string, error) {
	sig, err := ethcrypto.Sign(BidDigest(s.chainID, intent), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// BidAuthenticator implements domain.BidAuthenticator by recovering the
// EIP-712 signer and comparing it with the contributor address.
type BidAuthenticator struct {
	chainID int64
}

// NewBidAuthenticator creates a BidAuthenticator for the given chain.
func NewBidAuthenticator(chainID int64) *BidAuthenticator {
	return &BidAuthenticator{chainID: chainID}
}

func (a *BidAuthenticator) Authenticate(_ context.Context, intent domain.BidIntent, signature string) error {
	if !common.IsHexAddress(intent.Contributor) {
		return fmt.Errorf("crypto/signer: contributor %q is not an address: %w", intent.Contributor, domain.ErrUnauthorized)
	}
	signer, err := RecoverBidSigner(a.chainID, intent, signature)
	if err != nil {
		return fmt.Errorf("crypto/signer: %v: %w", err, domain.ErrUnauthorized)
	}
	if signer != common.HexToAddress(intent.Contributor) {
		return fmt.Errorf("crypto/signer: signed by %s: %w", signer.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// RecoverBidSigner returns the address that produced signature over intent.
func RecoverBidSigner(chainID int64, intent domain.BidIntent, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(BidDigest(chainID, intent), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

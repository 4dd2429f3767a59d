package crypto

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

func newTestSigner(t *testing.T, chainID int64) *Signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(key)), chainID)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestBidAuthenticator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSigner(t, 137)
	intent := domain.BidIntent{
		Contributor: s.Address().Hex(),
		TargetID:    "target-1",
		Amount:      250,
		Proof:       "proof-1",
	}
	sig, err := s.SignBid(intent)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	auth := NewBidAuthenticator(137)

	t.Run("accepts contributor signature", func(t *testing.T) {
		if err := auth.Authenticate(ctx, intent, sig); err != nil {
			t.Fatalf("expected valid signature, got %v", err)
		}
	})

	t.Run("rejects tampered amount", func(t *testing.T) {
		tampered := intent
		tampered.Amount = 251
		if err := auth.Authenticate(ctx, tampered, sig); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("rejects other chain", func(t *testing.T) {
		if err := NewBidAuthenticator(1).Authenticate(ctx, intent, sig); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if err := auth.Authenticate(ctx, intent, "0x1234"); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("rejects non-address contributor", func(t *testing.T) {
		other := intent
		other.Contributor = "user-1"
		if err := auth.Authenticate(ctx, other, sig); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestWebhookSigner(t *testing.T) {
	t.Parallel()

	w := NewWebhookSigner("shh")
	body := []byte(`{"type":"pool.promoted"}`)
	h := w.HeadersAt(body, 1700000000)

	if h[HeaderTimestamp] != "1700000000" {
		t.Fatalf("unexpected timestamp header %q", h[HeaderTimestamp])
	}
	if !w.Verify(body, h[HeaderTimestamp], h[HeaderSignature]) {
		t.Fatalf("expected signature to verify")
	}
	if w.Verify([]byte(`{}`), h[HeaderTimestamp], h[HeaderSignature]) {
		t.Fatalf("expected different body to fail")
	}
	if NewWebhookSigner("other").Verify(body, h[HeaderTimestamp], h[HeaderSignature]) {
		t.Fatalf("expected different secret to fail")
	}
}

package domain

import "context"

// Target is a piece of content that can be featured.
type Target struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	OwnerAddress string `json:"owner_address,omitempty"`
}

// TargetDirectory resolves target metadata.
type TargetDirectory interface {
	Lookup(ctx context.Context, id string) (Target, error)
	Upsert(ctx context.Context, t Target) error
}

// Payment is the result of verifying an on-chain funding proof.
type Payment struct {
	Valid  bool   `json:"valid"`
	Amount int64  `json:"amount"`
	From   string `json:"from"`
	To     string `json:"to"`
	TxHash string `json:"tx_hash"`
}

// PaymentVerifier checks that a proof references a settled payment.
type PaymentVerifier interface {
	Verify(ctx context.Context, proof string) (Payment, error)
}

// Notifier receives lifecycle notifications. Implementations must not block
// the caller; failures are theirs to log.
type Notifier interface {
	OnPromoted(ctx context.Context, target Target, pool Pool)
	OnOutbid(ctx context.Context, contributor string, bid Bid)
}

// BidIntent is the signed content of a contribution request.
type BidIntent struct {
	Contributor string `json:"contributor"`
	TargetID    string `json:"target_id"`
	Amount      int64  `json:"amount"`
	Proof       string `json:"proof"`
}

// BidAuthenticator checks that the contributor authorised a bid.
// Failures wrap ErrUnauthorized.
type BidAuthenticator interface {
	Authenticate(ctx context.Context, intent BidIntent, signature string) error
}

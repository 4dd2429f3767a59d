package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/spotlight/internal/clock"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

// poolCreateAttempts bounds retries when two first bids race to open the
// same target's pool and one loses on the unique index.
const poolCreateAttempts = 3

// PlaceBidInput is a contribution request.
type PlaceBidInput struct {
	Contributor string               `json:"contributor"`
	TargetID    string               `json:"target_id"`
	Amount      int64                `json:"amount"`
	Proof       string               `json:"proof"`
	Funding     domain.FundingSource `json:"funding"`
	Signature   string               `json:"signature,omitempty"`
}

// BiddingService accepts contributions into target pools.
type BiddingService struct {
	cfg      AuctionConfig
	stores   Stores
	limiter  domain.RateLimiter
	verifier domain.PaymentVerifier
	auth     domain.BidAuthenticator
	events   publisher
	clock    clock.Clock
	logger   *slog.Logger
}

// NewBiddingService creates a BiddingService. The limiter, verifier,
// authenticator and cache are optional and may be attached with the With*
// methods.
func NewBiddingService(cfg AuctionConfig, stores Stores, bus domain.SignalBus, clk clock.Clock, logger *slog.Logger) *BiddingService {
	logger = logger.With(slog.String("component", "bidding"))
	return &BiddingService{
		cfg:    cfg,
		stores: stores,
		events: publisher{bus: bus, clock: clk, logger: logger},
		clock:  clk,
		logger: logger,
	}
}

func (s *BiddingService) WithRateLimiter(l domain.RateLimiter) *BiddingService {
	s.limiter = l
	return s
}

// WithPaymentVerifier enables on-chain funded bids. Without a verifier they
// are rejected.
func (s *BiddingService) WithPaymentVerifier(v domain.PaymentVerifier) *BiddingService {
	s.verifier = v
	return s
}

func (s *BiddingService) WithAuthenticator(a domain.BidAuthenticator) *BiddingService {
	s.auth = a
	return s
}

func (s *BiddingService) WithPoolCache(c domain.PoolCache) *BiddingService {
	s.events.cache = c
	return s
}

// PlaceBid validates a contribution and commits it: the proof is consumed,
// the contributor debited, the bid merged or created and the pool total
// updated in one transaction.
func (s *BiddingService) PlaceBid(ctx context.Context, in PlaceBidInput) (domain.BidReceipt, error) {
	in.Contributor = domain.NormalizeContributor(in.Contributor)
	in.TargetID = strings.TrimSpace(in.TargetID)
	in.Proof = strings.TrimSpace(in.Proof)
	if in.Funding == "" {
		in.Funding = domain.FundingBalance
	}

	if err := s.validate(in); err != nil {
		return domain.BidReceipt{}, err
	}
	if err := s.authenticate(ctx, in); err != nil {
		return domain.BidReceipt{}, err
	}
	if err := s.rateLimit(ctx, in.Contributor); err != nil {
		return domain.BidReceipt{}, err
	}

	// Fast path; the authoritative check is Consume inside the transaction.
	used, err := s.stores.Proofs.Exists(ctx, in.Proof)
	if err != nil {
		return domain.BidReceipt{}, fmt.Errorf("service: place bid: %w", err)
	}
	if used {
		return domain.BidReceipt{}, fmt.Errorf("service: place bid: %w", domain.ErrDuplicateProof)
	}

	if s.stores.Targets != nil {
		if _, err := s.stores.Targets.Lookup(ctx, in.TargetID); err != nil {
			return domain.BidReceipt{}, fmt.Errorf("service: place bid on target %s: %w", in.TargetID, err)
		}
	}

	if in.Funding == domain.FundingOnChain {
		if err := s.verifyPayment(ctx, in); err != nil {
			return domain.BidReceipt{}, err
		}
	}

	var (
		receipt domain.BidReceipt
		pool    domain.Pool
	)
	for attempt := 1; ; attempt++ {
		receipt, pool, err = s.commit(ctx, in)
		if errors.Is(err, domain.ErrAlreadyExists) && attempt < poolCreateAttempts {
			s.logger.DebugContext(ctx, "pool creation raced, retrying",
				slog.String("target_id", in.TargetID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		break
	}
	if err != nil {
		return domain.BidReceipt{}, fmt.Errorf("service: place bid: %w", err)
	}

	s.events.invalidate(ctx, pool.ID)
	s.events.publish(ctx, domain.ChannelBids, EventBidPlaced, receipt)
	if receipt.Extended {
		s.events.publish(ctx, domain.ChannelPools, EventPoolExtended, pool)
	}

	s.logger.InfoContext(ctx, "bid placed",
		slog.String("pool_id", receipt.PoolID),
		slog.String("bid_id", receipt.BidID),
		slog.String("contributor", in.Contributor),
		slog.Int64("amount", in.Amount),
		slog.Int64("pool_total", receipt.PoolTotal),
		slog.Bool("extended", receipt.Extended),
	)
	return receipt, nil
}

func (s *BiddingService) validate(in PlaceBidInput) error {
	switch {
	case in.Contributor == "":
		return fmt.Errorf("service: place bid: %w: contributor is required", domain.ErrInvalidBid)
	case in.TargetID == "":
		return fmt.Errorf("service: place bid: %w: target_id is required", domain.ErrInvalidBid)
	case in.Proof == "":
		return fmt.Errorf("service: place bid: %w: proof is required", domain.ErrInvalidBid)
	case in.Funding != domain.FundingBalance && in.Funding != domain.FundingOnChain:
		return fmt.Errorf("service: place bid: %w: unknown funding %q", domain.ErrInvalidBid, in.Funding)
	case in.Amount < s.cfg.MinBid || in.Amount <= 0:
		return fmt.Errorf("service: place bid: %w: %d < %d", domain.ErrBelowMinimum, in.Amount, s.cfg.MinBid)
	case s.cfg.MaxBid > 0 && in.Amount > s.cfg.MaxBid:
		return fmt.Errorf("service: place bid: %w: %d > %d", domain.ErrAboveMaximum, in.Amount, s.cfg.MaxBid)
	}
	return nil
}

func (s *BiddingService) authenticate(ctx context.Context, in PlaceBidInput) error {
	if in.Signature == "" && !s.cfg.RequireSignature {
		return nil
	}
	if s.auth == nil {
		return fmt.Errorf("service: place bid: %w: signatures not accepted", domain.ErrUnauthorized)
	}
	intent := domain.BidIntent{
		Contributor: in.Contributor,
		TargetID:    in.TargetID,
		Amount:      in.Amount,
		Proof:       in.Proof,
	}
	if err := s.auth.Authenticate(ctx, intent, in.Signature); err != nil {
		return fmt.Errorf("service: place bid: %w", err)
	}
	return nil
}

func (s *BiddingService) rateLimit(ctx context.Context, contributor string) error {
	if s.limiter == nil || s.cfg.RateLimit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "bids:"+contributor, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		// Fail open: the transaction below keeps bids correct without it.
		s.logger.WarnContext(ctx, "bid rate limiter unavailable",
			slog.String("contributor", contributor),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !allowed {
		return fmt.Errorf("service: place bid from %s: %w", contributor, domain.ErrRateLimited)
	}
	return nil
}

// verifyPayment rejects an unverifiable on-chain proof exactly like a closed
// auction, with ErrPaymentUnverified attached for callers that care.
func (s *BiddingService) verifyPayment(ctx context.Context, in PlaceBidInput) error {
	if s.verifier == nil {
		return fmt.Errorf("service: place bid: %w: %w: no payment verifier", domain.ErrAuctionClosed, domain.ErrPaymentUnverified)
	}
	p, err := s.verifier.Verify(ctx, in.Proof)
	if err != nil {
		return fmt.Errorf("service: verify payment %s: %w", in.Proof, err)
	}
	var reason string
	switch {
	case !p.Valid:
		reason = "invalid proof"
	case p.Amount != in.Amount:
		reason = fmt.Sprintf("paid %d, bid %d", p.Amount, in.Amount)
	case domain.NormalizeContributor(p.From) != in.Contributor:
		reason = "payer is not the contributor"
	default:
		return nil
	}
	return fmt.Errorf("service: place bid: %w: %w: %s", domain.ErrAuctionClosed, domain.ErrPaymentUnverified, reason)
}

func (s *BiddingService) commit(ctx context.Context, in PlaceBidInput) (domain.BidReceipt, domain.Pool, error) {
	var (
		receipt domain.BidReceipt
		pool    domain.Pool
	)
	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()

		var err error
		pool, err = s.resolvePool(ctx, in.TargetID, now)
		if err != nil {
			return err
		}
		if pool.Ended(now) {
			return fmt.Errorf("pool %s ended at %s: %w", pool.ID, pool.EndsAt, domain.ErrAuctionClosed)
		}

		bid, err := s.stores.Bids.GetActiveForUpdate(ctx, pool.ID, in.Contributor)
		merge := err == nil
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if !merge {
			bid = domain.Bid{
				ID:          uuid.NewString(),
				PoolID:      pool.ID,
				Contributor: in.Contributor,
				Status:      domain.BidStatusActive,
				Funding:     in.Funding,
				Proof:       in.Proof,
				PlacedAt:    now,
			}
		}

		if err := s.stores.Proofs.Consume(ctx, in.Proof, bid.ID); err != nil {
			return err
		}
		if in.Funding == domain.FundingBalance {
			if err := s.stores.Ledger.Debit(ctx, in.Contributor, in.Amount); err != nil {
				return err
			}
		} else if err := s.stores.Ledger.EnsureAccount(ctx, in.Contributor); err != nil {
			return err
		}

		bid.Amount += in.Amount
		bid.UpdatedAt = now
		if merge {
			err = s.stores.Bids.Update(ctx, bid)
		} else {
			err = s.stores.Bids.Create(ctx, bid)
		}
		if err != nil {
			return err
		}

		pool.TotalPooled += in.Amount
		pool.LastBidAt = &now
		pool.TopContributor = in.Contributor
		extended := pool.ApplyAntiSnipe(now, s.cfg.Snipe)
		pool.UpdatedAt = now
		if err := s.stores.Pools.Update(ctx, pool); err != nil {
			return err
		}

		receipt = domain.BidReceipt{
			PoolID:           pool.ID,
			BidID:            bid.ID,
			PoolTotal:        pool.TotalPooled,
			ContributorTotal: bid.Amount,
			EndsAt:           pool.EndsAt,
			Extended:         extended,
		}
		return s.stores.Audit.Log(ctx, domain.AuditEntry{
			Event:  domain.AuditBidPlaced,
			PoolID: pool.ID,
			BidID:  bid.ID,
			Actor:  in.Contributor,
			Detail: map[string]any{
				"amount":   in.Amount,
				"funding":  string(in.Funding),
				"proof":    in.Proof,
				"merged":   merge,
				"extended": extended,
			},
		})
	})
	return receipt, pool, err
}

// resolvePool returns the target's open pool locked for update, opening a
// new round if there is none.
func (s *BiddingService) resolvePool(ctx context.Context, targetID string, now time.Time) (domain.Pool, error) {
	pool, err := s.stores.Pools.GetBiddingByTargetForUpdate(ctx, targetID)
	if err == nil {
		return pool, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Pool{}, err
	}

	endsAt := now.Add(s.cfg.RoundDuration)
	pool = domain.Pool{
		ID:             uuid.NewString(),
		TargetID:       targetID,
		Status:         domain.PoolStatusBidding,
		EndsAt:         endsAt,
		OriginalEndsAt: endsAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.stores.Pools.Create(ctx, pool); err != nil {
		return domain.Pool{}, err
	}
	return pool, nil
}

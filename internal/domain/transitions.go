package domain

import "fmt"

// poolTransitions is the only place pool status changes are defined. Status
// moves forward only.
var poolTransitions = map[PoolStatus][]PoolStatus{
	PoolStatusBidding:          {PoolStatusPendingPromotion, PoolStatusCompleted},
	PoolStatusPendingPromotion: {PoolStatusActive, PoolStatusCompleted},
	PoolStatusActive:           {PoolStatusCompleted},
}

var bidTransitions = map[BidStatus][]BidStatus{
	BidStatusActive: {BidStatusWon, BidStatusOutbid, BidStatusPendingRefund, BidStatusRefunded},
	BidStatusOutbid: {BidStatusPendingRefund, BidStatusRefunded},
	// A winner cancelled before it was featured hands its funds back.
	BidStatusWon:           {BidStatusOutbid},
	BidStatusPendingRefund: {BidStatusRefunded},
}

// ValidPoolStatus reports whether s is a known pool status.
func ValidPoolStatus(s PoolStatus) bool {
	switch s {
	case PoolStatusBidding, PoolStatusPendingPromotion, PoolStatusActive, PoolStatusCompleted:
		return true
	}
	return false
}

// ValidBidStatus reports whether s is a known bid status.
func ValidBidStatus(s BidStatus) bool {
	switch s {
	case BidStatusActive, BidStatusOutbid, BidStatusRefunded, BidStatusWon, BidStatusPendingRefund:
		return true
	}
	return false
}

// CanTransitionPool reports whether from -> to is allowed.
func CanTransitionPool(from, to PoolStatus) bool {
	for _, s := range poolTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionBid reports whether from -> to is allowed.
func CanTransitionBid(from, to BidStatus) bool {
	for _, s := range bidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkPoolTransition(from, to PoolStatus) error {
	if !CanTransitionPool(from, to) {
		return fmt.Errorf("%w: pool %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

func checkBidTransition(from, to BidStatus) error {
	if !CanTransitionBid(from, to) {
		return fmt.Errorf("%w: bid %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

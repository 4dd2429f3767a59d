package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnavailable   = errors.New("feature not configured")

	// Bid validation and resource errors. None of them leave state behind.
	ErrInvalidBid          = errors.New("invalid bid")
	ErrBelowMinimum        = errors.New("amount below minimum")
	ErrAboveMaximum        = errors.New("amount above maximum")
	ErrDuplicateProof      = errors.New("proof already consumed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAuctionClosed       = errors.New("auction closed")
	ErrPaymentUnverified   = errors.New("payment not verified")

	// Lifecycle and ledger errors.
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrAccountNotFound   = errors.New("ledger account not found")
	ErrPoolNotSettled    = errors.New("pool not settled")
	ErrUnknownAuditEvent = errors.New("unknown audit event")
)

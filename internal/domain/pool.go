package domain

import "time"

// PoolStatus tracks where a pool is in the round lifecycle.
type PoolStatus string

const (
	PoolStatusBidding          PoolStatus = "bidding"
	PoolStatusPendingPromotion PoolStatus = "pending_promotion"
	PoolStatusActive           PoolStatus = "active"
	PoolStatusCompleted        PoolStatus = "completed"
)

// Pool aggregates every contribution competing for one target in one round.
// Amounts are integer minor units.
type Pool struct {
	ID              string     `json:"id"`
	TargetID        string     `json:"target_id"`
	Status          PoolStatus `json:"status"`
	TotalPooled     int64      `json:"total_pooled"`
	EndsAt          time.Time  `json:"ends_at"`
	OriginalEndsAt  time.Time  `json:"original_ends_at"`
	LastBidAt       *time.Time `json:"last_bid_at,omitempty"`
	TopContributor  string     `json:"top_contributor,omitempty"`
	FeatureStartsAt *time.Time `json:"feature_starts_at,omitempty"`
	FeatureEndsAt   *time.Time `json:"feature_ends_at,omitempty"`
	// WonAt is when the pool was chosen as its round's winner.
	WonAt     *time.Time `json:"won_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Transition moves the pool to the given status if the transition table
// allows it.
func (p *Pool) Transition(to PoolStatus) error {
	if err := checkPoolTransition(p.Status, to); err != nil {
		return err
	}
	p.Status = to
	return nil
}

// Ended reports whether bidding on the pool is over at now.
func (p Pool) Ended(now time.Time) bool {
	return !now.Before(p.EndsAt)
}

// FeatureExpired reports whether an active pool's featured window is over.
func (p Pool) FeatureExpired(now time.Time) bool {
	return p.FeatureEndsAt != nil && !now.Before(*p.FeatureEndsAt)
}

// SnipePolicy configures close-time extension for late contributions.
// MaxExtension caps the cumulative extension past OriginalEndsAt; zero means
// unbounded.
type SnipePolicy struct {
	Window       time.Duration
	Extension    time.Duration
	MaxExtension time.Duration
}

// ApplyAntiSnipe extends EndsAt when a contribution lands inside the trailing
// window. It returns true when EndsAt moved.
func (p *Pool) ApplyAntiSnipe(now time.Time, policy SnipePolicy) bool {
	if policy.Window <= 0 || policy.Extension <= 0 {
		return false
	}
	remaining := p.EndsAt.Sub(now)
	if remaining <= 0 || remaining > policy.Window {
		return false
	}

	next := p.EndsAt.Add(policy.Extension)
	if policy.MaxExtension > 0 {
		ceiling := p.OriginalEndsAt.Add(policy.MaxExtension)
		if next.After(ceiling) {
			next = ceiling
		}
	}
	if !next.After(p.EndsAt) {
		return false
	}
	p.EndsAt = next
	return true
}

// SelectWinner returns the index of the winning pool: highest TotalPooled,
// then earliest EndsAt, then smallest ID. It returns -1 for an empty slice.
func SelectWinner(pools []Pool) int {
	best := -1
	for i, p := range pools {
		if best < 0 || outranks(p, pools[best]) {
			best = i
		}
	}
	return best
}

func outranks(a, b Pool) bool {
	if a.TotalPooled != b.TotalPooled {
		return a.TotalPooled > b.TotalPooled
	}
	if !a.EndsAt.Equal(b.EndsAt) {
		return a.EndsAt.Before(b.EndsAt)
	}
	return a.ID < b.ID
}

package domain

import "time"

// DefaultSlotCount is the number of concurrently featured targets.
const DefaultSlotCount = 2

// FeaturedSlot is one position in the rotating featured set. An empty
// TargetID means the slot has never been filled.
type FeaturedSlot struct {
	SlotIndex  int       `json:"slot_index"`
	TargetID   string    `json:"target_id,omitempty"`
	PoolID     string    `json:"pool_id,omitempty"`
	PromotedAt time.Time `json:"promoted_at"`
}

// Filled reports whether the slot currently holds a target.
func (s FeaturedSlot) Filled() bool {
	return s.TargetID != ""
}

// ChooseEvictionSlot picks the slot index a new promotion overwrites: the
// lowest unfilled index in [0, size), otherwise the slot with the smallest
// PromotedAt (lowest index on ties).
func ChooseEvictionSlot(slots []FeaturedSlot, size int) int {
	byIndex := make(map[int]FeaturedSlot, len(slots))
	for _, s := range slots {
		byIndex[s.SlotIndex] = s
	}
	for i := 0; i < size; i++ {
		if s, ok := byIndex[i]; !ok || !s.Filled() {
			return i
		}
	}

	oldest := -1
	for i := 0; i < size; i++ {
		s := byIndex[i]
		if oldest < 0 || s.PromotedAt.Before(byIndex[oldest].PromotedAt) {
			oldest = i
		}
	}
	return oldest
}

package models

import "time"

// DefaultEaseFactor is the ease every new review state starts with
const DefaultEaseFactor = 2.5

// CardState is the position of a review state in the learning state machine.
type CardState string

const (
	StateNew        CardState = "New"
	StateLearning   CardState = "Learning"
	StateReview     CardState = "Review"
	StateRelearning CardState = "Relearning"
)

// IsValid reports whether s is a known state.
func (s CardState) IsValid() bool {
	switch s {
	case StateNew, StateLearning, StateReview, StateRelearning:
		return true
	}
	return false
}

// ReviewState is the scheduling record of one learner for one learnable item.
type ReviewState struct {
	LearnerID       string     `json:"learner_id" db:"learner_id"`
	ItemID          string     `json:"item_id" db:"item_id"`
	EaseFactor      float64    `json:"ease_factor" db:"ease_factor"`
	IntervalDays    int        `json:"interval_days" db:"interval_days"`       // Days until the next review
	RepetitionCount int        `json:"repetition_count" db:"repetition_count"` // Consecutive successful reviews
	LapseCount      int        `json:"lapse_count" db:"lapse_count"`           // Failed reviews over the item's lifetime
	DueAt           time.Time  `json:"due_at" db:"due_at"`
	LastReviewedAt  *time.Time `json:"last_reviewed_at,omitempty" db:"last_reviewed_at"`
	State           CardState  `json:"state" db:"state"`
	Tombstoned      bool       `json:"tombstoned" db:"tombstoned"`
	TombstonedAt    *time.Time `json:"tombstoned_at,omitempty" db:"tombstoned_at"`
	Version         int64      `json:"version" db:"version"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// NewReviewState returns the default state for an item the learner has never seen.
// It is due immediately.
func NewReviewState(learnerID, itemID string, now time.Time) ReviewState {
	now = now.UTC()
	return ReviewState{
		LearnerID:  learnerID,
		ItemID:     itemID,
		EaseFactor: DefaultEaseFactor,
		DueAt:      now,
		State:      StateNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Key identifies a review state.
type Key struct {
	LearnerID string
	ItemID    string
}

// Key returns the composite identity of the state.
func (s ReviewState) Key() Key {
	return Key{LearnerID: s.LearnerID, ItemID: s.ItemID}
}

// Clone returns a deep copy so callers can't alias the timestamp pointers.
func (s ReviewState) Clone() ReviewState {
	out := s
	if s.LastReviewedAt != nil {
		t := *s.LastReviewedAt
		out.LastReviewedAt = &t
	}
	if s.TombstonedAt != nil {
		t := *s.TombstonedAt
		out.TombstonedAt = &t
	}
	return out
}

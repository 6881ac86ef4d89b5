package models

import "time"

// ReviewLog records one applied grade so the review history stays auditable
// after the state itself has moved on.
type ReviewLog struct {
	ID             int64     `json:"id" db:"id"`
	LearnerID      string    `json:"learner_id" db:"learner_id"`
	ItemID         string    `json:"item_id" db:"item_id"`
	SessionID      string    `json:"session_id" db:"session_id"`
	Grade          Grade     `json:"grade" db:"grade"`
	StateBefore    CardState `json:"state_before" db:"state_before"`
	StateAfter     CardState `json:"state_after" db:"state_after"`
	IntervalBefore int       `json:"interval_before" db:"interval_before"`
	IntervalAfter  int       `json:"interval_after" db:"interval_after"`
	EaseBefore     float64   `json:"ease_before" db:"ease_before"`
	EaseAfter      float64   `json:"ease_after" db:"ease_after"`
	ReviewedAt     time.Time `json:"reviewed_at" db:"reviewed_at"`
}

// NewReviewLog builds the log entry for the transition before -> after.
func NewReviewLog(sessionID string, grade Grade, before, after ReviewState, reviewedAt time.Time) ReviewLog {
	return ReviewLog{
		LearnerID:      after.LearnerID,
		ItemID:         after.ItemID,
		SessionID:      sessionID,
		Grade:          grade,
		StateBefore:    before.State,
		StateAfter:     after.State,
		IntervalBefore: before.IntervalDays,
		IntervalAfter:  after.IntervalDays,
		EaseBefore:     before.EaseFactor,
		EaseAfter:      after.EaseFactor,
		ReviewedAt:     reviewedAt.UTC(),
	}
}

package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/reviewengine/pkg/models"
)

// ReviewLogRepository handles the append-only review history
type ReviewLogRepository struct {
	db *sqlx.DB
}

// NewReviewLogRepository creates a new repository instance
func NewReviewLogRepository(db *sqlx.DB) *ReviewLogRepository {
	return &ReviewLogRepository{db: db}
}

// Create appends a log entry
func (r *ReviewLogRepository) Create(ctx context.Context, entry *models.ReviewLog) error {
	return r.create(ctx, r.db, entry)
}

func (r *ReviewLogRepository) create(ctx context.Context, e sqlx.ExtContext, entry *models.ReviewLog) error {
	entry.ReviewedAt = entry.ReviewedAt.UTC()
	query := `
		INSERT INTO review_log (
			learner_id, item_id, session_id, grade, state_before, state_after,
			interval_before, interval_after, ease_before, ease_after, reviewed_at
		) VALUES (
			:learner_id, :item_id, :session_id, :grade, :state_before, :state_after,
			:interval_before, :interval_after, :ease_before, :ease_after, :reviewed_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, e, query, entry); err != nil {
		return fmt.Errorf("failed to create review log: %w", err)
	}
	return nil
}

// GetByLearner returns all log entries of a learner, oldest first
func (r *ReviewLogRepository) GetByLearner(ctx context.Context, learnerID string) ([]models.ReviewLog, error) {
	query := `
		SELECT id, learner_id, item_id, session_id, grade, state_before, state_after,
			interval_before, interval_after, ease_before, ease_after, reviewed_at
		FROM review_log
		WHERE learner_id = ?
		ORDER BY reviewed_at ASC, id ASC
	`
	var logs []models.ReviewLog
	if err := r.db.SelectContext(ctx, &logs, r.db.Rebind(query), learnerID); err != nil {
		return nil, fmt.Errorf("failed to get review logs: %w", err)
	}
	for i := range logs {
		logs[i].ReviewedAt = logs[i].ReviewedAt.UTC()
	}
	return logs, nil
}

// CountByItem returns how many times an item was graded across all learners
func (r *ReviewLogRepository) CountByItem(ctx context.Context, itemID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM review_log WHERE item_id = ?`), itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to count review logs: %w", err)
	}
	return n, nil
}

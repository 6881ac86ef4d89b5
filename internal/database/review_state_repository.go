package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/example/reviewengine/internal/spaced_repetition"
	"github.com/example/reviewengine/internal/store"
	"github.com/example/reviewengine/pkg/models"
)

const reviewStateColumns = `learner_id, item_id, ease_factor, interval_days, repetition_count,
	lapse_count, due_at, last_reviewed_at, state, tombstoned, tombstoned_at, version,
	created_at, updated_at`

// ReviewStateRepository persists review states with sqlx
type ReviewStateRepository struct {
	db        *sqlx.DB
	dialect   string
	versioned bool
	logs      *ReviewLogRepository
	log       zerolog.Logger
}

var _ store.Store = (*ReviewStateRepository)(nil)

// NewReviewStateRepository creates a new repository instance. With versioned
// set, Save is a compare-and-swap on the version column.
func NewReviewStateRepository(db *sqlx.DB, versioned bool, log zerolog.Logger) *ReviewStateRepository {
	return &ReviewStateRepository{
		db:        db,
		dialect:   dialectOf(db),
		versioned: versioned,
		logs:      NewReviewLogRepository(db),
		log:       log.With().Str("component", "review_state_repository").Logger(),
	}
}

// Get returns the state for a learner and item, nil if there is none
func (r *ReviewStateRepository) Get(ctx context.Context, learnerID, itemID string) (*models.ReviewState, error) {
	state, err := r.get(ctx, r.db, learnerID, itemID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review state: %w", err)
	}
	return state, nil
}

func (r *ReviewStateRepository) get(ctx context.Context, q sqlx.QueryerContext, learnerID, itemID string, forUpdate bool) (*models.ReviewState, error) {
	query := `SELECT ` + reviewStateColumns + ` FROM review_states WHERE learner_id = ? AND item_id = ?`
	if forUpdate && r.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}

	var state models.ReviewState
	if err := sqlx.GetContext(ctx, q, &state, r.db.Rebind(query), learnerID, itemID); err != nil {
		return nil, err
	}
	normalize(&state)
	return &state, nil
}

// GetOrCreate returns the state, inserting a new one due at now when absent
func (r *ReviewStateRepository) GetOrCreate(ctx context.Context, learnerID, itemID string, now time.Time) (models.ReviewState, error) {
	if err := r.insertIfAbsent(ctx, r.db, models.NewReviewState(learnerID, itemID, now)); err != nil {
		return models.ReviewState{}, err
	}
	state, err := r.get(ctx, r.db, learnerID, itemID, false)
	if err != nil {
		return models.ReviewState{}, fmt.Errorf("failed to get review state: %w", err)
	}
	return *state, nil
}

func (r *ReviewStateRepository) insertIfAbsent(ctx context.Context, e sqlx.ExtContext, state models.ReviewState) error {
	query := `
		INSERT INTO review_states (` + reviewStateColumns + `)
		VALUES (:learner_id, :item_id, :ease_factor, :interval_days, :repetition_count,
			:lapse_count, :due_at, :last_reviewed_at, :state, :tombstoned, :tombstoned_at, :version,
			:created_at, :updated_at)
		ON CONFLICT (learner_id, item_id) DO NOTHING
	`
	if _, err := sqlx.NamedExecContext(ctx, e, query, state); err != nil {
		return fmt.Errorf("failed to create review state: %w", err)
	}
	return nil
}

// Save writes the state. Tombstone columns are never overwritten.
func (r *ReviewStateRepository) Save(ctx context.Context, state models.ReviewState) error {
	return r.save(ctx, r.db, state)
}

func (r *ReviewStateRepository) save(ctx context.Context, e sqlx.ExtContext, state models.ReviewState) error {
	state.UpdatedAt = state.UpdatedAt.UTC()
	state.DueAt = state.DueAt.UTC()

	if !r.versioned {
		query := `
			INSERT INTO review_states (` + reviewStateColumns + `)
			VALUES (:learner_id, :item_id, :ease_factor, :interval_days, :repetition_count,
				:lapse_count, :due_at, :last_reviewed_at, :state, :tombstoned, :tombstoned_at, 1,
				:created_at, :updated_at)
			ON CONFLICT (learner_id, item_id) DO UPDATE SET
				ease_factor = excluded.ease_factor,
				interval_days = excluded.interval_days,
				repetition_count = excluded.repetition_count,
				lapse_count = excluded.lapse_count,
				due_at = excluded.due_at,
				last_reviewed_at = excluded.last_reviewed_at,
				state = excluded.state,
				version = review_states.version + 1,
				updated_at = excluded.updated_at
		`
		if _, err := sqlx.NamedExecContext(ctx, e, query, state); err != nil {
			return fmt.Errorf("failed to save review state: %w", err)
		}
		return nil
	}

	query := `
		UPDATE review_states SET
			ease_factor = :ease_factor,
			interval_days = :interval_days,
			repetition_count = :repetition_count,
			lapse_count = :lapse_count,
			due_at = :due_at,
			last_reviewed_at = :last_reviewed_at,
			state = :state,
			version = version + 1,
			updated_at = :updated_at
		WHERE learner_id = :learner_id AND item_id = :item_id AND version = :version
	`
	result, err := sqlx.NamedExecContext(ctx, e, query, state)
	if err != nil {
		return fmt.Errorf("failed to save review state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Either the row is missing or somebody else saved first.
	var exists int
	err = sqlx.GetContext(ctx, e, &exists,
		r.db.Rebind(`SELECT COUNT(*) FROM review_states WHERE learner_id = ? AND item_id = ?`),
		state.LearnerID, state.ItemID)
	if err != nil {
		return fmt.Errorf("failed to check review state: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("save %s/%s at version %d: %w", state.LearnerID, state.ItemID, state.Version, store.ErrVersionConflict)
	}
	state.Version = 1
	return r.insertIfAbsent(ctx, e, state)
}

// Update runs fn inside a transaction so the read and the write of one key
// can't interleave with another writer.
func (r *ReviewStateRepository) Update(ctx context.Context, learnerID, itemID string, now time.Time, fn store.UpdateFunc) (models.ReviewState, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ReviewState{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.insertIfAbsent(ctx, tx, models.NewReviewState(learnerID, itemID, now)); err != nil {
		return models.ReviewState{}, err
	}
	current, err := r.get(ctx, tx, learnerID, itemID, true)
	if err != nil {
		return models.ReviewState{}, fmt.Errorf("failed to get review state: %w", err)
	}
	if current.Tombstoned {
		return models.ReviewState{}, store.ErrTombstoned
	}

	next, entry, err := fn(*current)
	if err != nil {
		return models.ReviewState{}, err
	}
	if err := r.save(ctx, tx, next); err != nil {
		return models.ReviewState{}, err
	}
	if entry != nil {
		if err := r.logs.create(ctx, tx, entry); err != nil {
			return models.ReviewState{}, err
		}
	}

	saved, err := r.get(ctx, tx, learnerID, itemID, false)
	if err != nil {
		return models.ReviewState{}, fmt.Errorf("failed to reload review state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.ReviewState{}, fmt.Errorf("failed to commit review state: %w", err)
	}
	return *saved, nil
}

// Tombstone marks every state of a deleted item so it is never scheduled again
func (r *ReviewStateRepository) Tombstone(ctx context.Context, itemID string, now time.Time) (int, error) {
	now = now.UTC()
	query := `
		UPDATE review_states SET
			tombstoned = ?,
			tombstoned_at = ?,
			version = version + 1,
			updated_at = ?
		WHERE item_id = ? AND tombstoned = ?
	`
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), true, now, now, itemID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to tombstone review states: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	r.log.Info().Str("item_id", itemID).Int64("states", rows).Msg("tombstoned item")
	return int(rows), nil
}

// ListDue returns the learner's due states in due order. The SQL ordering
// mirrors spaced_repetition.DueLess so LIMIT cuts at the same place.
func (r *ReviewStateRepository) ListDue(ctx context.Context, learnerID string, now time.Time, limit int) ([]models.ReviewState, error) {
	itemOrder := "item_id"
	if r.dialect == DialectPostgres {
		itemOrder = `item_id COLLATE "C"`
	}
	query := `
		SELECT ` + reviewStateColumns + `
		FROM review_states
		WHERE learner_id = ? AND tombstoned = ? AND due_at <= ?
		ORDER BY due_at ASC,
			CASE state
				WHEN 'Relearning' THEN 0
				WHEN 'Learning' THEN 1
				WHEN 'Review' THEN 2
				ELSE 3
			END ASC,
			` + itemOrder + ` ASC
	`
	args := []interface{}{learnerID, false, now.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var states []models.ReviewState
	if err := r.db.SelectContext(ctx, &states, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get due review states: %w", err)
	}
	for i := range states {
		normalize(&states[i])
	}
	spaced_repetition.SortDue(states, now)
	return states, nil
}

// ListByLearner returns all states of a learner including tombstoned ones
func (r *ReviewStateRepository) ListByLearner(ctx context.Context, learnerID string) ([]models.ReviewState, error) {
	query := `SELECT ` + reviewStateColumns + ` FROM review_states WHERE learner_id = ? ORDER BY item_id ASC`
	var states []models.ReviewState
	if err := r.db.SelectContext(ctx, &states, r.db.Rebind(query), learnerID); err != nil {
		return nil, fmt.Errorf("failed to get review states: %w", err)
	}
	for i := range states {
		normalize(&states[i])
	}
	return states, nil
}

// ReviewLogs returns the learner's review history
func (r *ReviewStateRepository) ReviewLogs(ctx context.Context, learnerID string) ([]models.ReviewLog, error) {
	return r.logs.GetByLearner(ctx, learnerID)
}

// normalize puts every timestamp in UTC regardless of what the driver returned
func normalize(s *models.ReviewState) {
	s.DueAt = s.DueAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.LastReviewedAt != nil {
		t := s.LastReviewedAt.UTC()
		s.LastReviewedAt = &t
	}
	if s.TombstonedAt != nil {
		t := s.TombstonedAt.UTC()
		s.TombstonedAt = &t
	}
}

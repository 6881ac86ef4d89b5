// Package store defines the persistence contract for review states.
//
// A Store holds exactly one ReviewState per (learner, item) pair and performs no
// scheduling logic of its own. Implementations must make Save and Update atomic
// per key; across keys there is no ordering guarantee.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/reviewengine/pkg/models"
)

var (
	// ErrTombstoned is returned when updating a state whose item was deleted.
	ErrTombstoned = errors.New("store: review state is tombstoned")
	// ErrVersionConflict is returned by versioned saves when the stored version moved on.
	ErrVersionConflict = errors.New("store: version conflict")
)

// UpdateFunc computes the next state from the current one. A non-nil log is
// persisted together with the state.
type UpdateFunc func(current models.ReviewState) (models.ReviewState, *models.ReviewLog, error)

// Store is the durable home of review states.
type Store interface {
	// Get returns nil and no error when the pair has no state yet.
	Get(ctx context.Context, learnerID, itemID string) (*models.ReviewState, error)
	// GetOrCreate returns the existing state or creates a New one due at now.
	GetOrCreate(ctx context.Context, learnerID, itemID string, now time.Time) (models.ReviewState, error)
	// Save writes the whole state.
	Save(ctx context.Context, state models.ReviewState) error
	// Update runs a read-modify-write cycle for one key as a single unit.
	Update(ctx context.Context, learnerID, itemID string, now time.Time, fn UpdateFunc) (models.ReviewState, error)
	// Tombstone hides every state of the item from due queries and reports how
	// many states were newly marked.
	Tombstone(ctx context.Context, itemID string, now time.Time) (int, error)
	// ListDue returns non-tombstoned states due at now in due order, at most limit.
	ListDue(ctx context.Context, learnerID string, now time.Time, limit int) ([]models.ReviewState, error)
	// ListByLearner returns every state of the learner, tombstoned ones included.
	ListByLearner(ctx context.Context, learnerID string) ([]models.ReviewState, error)
	// ReviewLogs returns the learner's review history, oldest first.
	ReviewLogs(ctx context.Context, learnerID string) ([]models.ReviewLog, error)
}

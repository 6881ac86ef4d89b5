package review

import (
	"context"
	"fmt"
	"time"

	"github.com/example/reviewengine/internal/spaced_repetition"
	"github.com/example/reviewengine/internal/store"
	"github.com/example/reviewengine/pkg/models"
)

// DefaultLimit is the batch size used when callers pass a non-positive limit.
const DefaultLimit = 20

// Selector answers "what should this learner review now".
type Selector struct {
	store        store.Store
	defaultLimit int
}

// NewSelector returns a selector reading from s.
func NewSelector(s store.Store, defaultLimit int) *Selector {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Selector{store: s, defaultLimit: defaultLimit}
}

// DueItems returns at most limit due, non-tombstoned states ordered most
// overdue first. An empty result is not an error.
func (s *Selector) DueItems(ctx context.Context, learnerID string, limit int, now time.Time) ([]models.ReviewState, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	candidates, err := s.store.ListDue(ctx, learnerID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due for %s: %w", learnerID, err)
	}
	// Stores order already; re-applying keeps the contract independent of the adapter.
	return spaced_repetition.SelectDue(candidates, now, limit), nil
}

package review

import (
	"errors"

	"github.com/example/reviewengine/internal/spaced_repetition"
	"github.com/example/reviewengine/internal/store"
)

var (
	// ErrNoDueItems means the learner is all caught up. It is not a failure.
	ErrNoDueItems = errors.New("review: no due items")

	ErrSessionNotFound  = errors.New("review: session not found")
	ErrItemNotInSession = errors.New("review: item not in session")
	ErrAlreadyPresented = errors.New("review: item already graded in this session")

	// Re-exported so callers only need this package.
	ErrInvalidGrade = spaced_repetition.ErrInvalidGrade
	ErrTombstoned   = store.ErrTombstoned
)

// IsCallerError reports whether err is caused by a misbehaving caller rather
// than the store. Such errors must not be retried.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrItemNotInSession) ||
		errors.Is(err, ErrAlreadyPresented) ||
		errors.Is(err, ErrInvalidGrade)
}

// Package review runs review sessions on top of a review state store.
//
// Collaborators start a session for a learner, grade the items of its batch one
// by one and end it whenever they like. Every grade is an independent unit of
// work against the store, so an abandoned session needs no cleanup beyond
// forgetting it.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/reviewengine/internal/store"
	"github.com/example/reviewengine/pkg/models"
)

// DefaultSessionTTL is how long an idle session is kept before sweeping.
const DefaultSessionTTL = 2 * time.Hour

var errEmptyLearner = errors.New("review: learner id is required")

// Scheduler computes the next state for a graded review.
type Scheduler interface {
	Grade(state models.ReviewState, grade models.Grade, now time.Time) (models.ReviewState, error)
}

// Options tune an Engine. Zero values fall back to defaults.
type Options struct {
	DefaultLimit int
	SessionTTL   time.Duration
	// NewSessionID overrides uuid generation, mostly for tests.
	NewSessionID func() string
}

type session struct {
	mu sync.Mutex
	models.ReviewSession
}

// Engine is the review session orchestrator.
type Engine struct {
	store     store.Store
	selector  *Selector
	scheduler Scheduler
	log       zerolog.Logger
	ttl       time.Duration
	newID     func() string

	mu       sync.Mutex
	sessions map[string]*session
}

// NewEngine wires an engine over st using sched for grading.
func NewEngine(st store.Store, sched Scheduler, log zerolog.Logger, opts Options) *Engine {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = func() string { return uuid.NewString() }
	}
	return &Engine{
		store:     st,
		selector:  NewSelector(st, opts.DefaultLimit),
		scheduler: sched,
		log:       log.With().Str("component", "review").Logger(),
		ttl:       opts.SessionTTL,
		newID:     opts.NewSessionID,
		sessions:  make(map[string]*session),
	}
}

// Selector exposes the due selector the engine draws batches from.
func (e *Engine) Selector() *Selector { return e.selector }

// DueItems is a read-only look at what StartSession would draw.
func (e *Engine) DueItems(ctx context.Context, learnerID string, limit int, now time.Time) ([]models.ReviewState, error) {
	return e.selector.DueItems(ctx, learnerID, limit, now)
}

// Enroll makes sure a review state exists for each item. New states are due
// immediately; existing ones are left alone.
func (e *Engine) Enroll(ctx context.Context, learnerID string, now time.Time, itemIDs ...string) error {
	if learnerID == "" {
		return errEmptyLearner
	}
	for _, id := range itemIDs {
		if _, err := e.store.GetOrCreate(ctx, learnerID, id, now); err != nil {
			return fmt.Errorf("enroll %s/%s: %w", learnerID, id, err)
		}
	}
	return nil
}

// Tombstone hides a deleted item from every learner's future sessions.
func (e *Engine) Tombstone(ctx context.Context, itemID string, now time.Time) (int, error) {
	n, err := e.store.Tombstone(ctx, itemID, now)
	if err != nil {
		return 0, fmt.Errorf("tombstone %s: %w", itemID, err)
	}
	return n, nil
}

// StartSession draws a batch of due items for the learner. The batch order is
// fixed for the session's lifetime. ErrNoDueItems means there is nothing to do.
func (e *Engine) StartSession(ctx context.Context, learnerID string, limit int, now time.Time) (models.ReviewSession, error) {
	if learnerID == "" {
		return models.ReviewSession{}, errEmptyLearner
	}
	due, err := e.selector.DueItems(ctx, learnerID, limit, now)
	if err != nil {
		return models.ReviewSession{}, err
	}
	if len(due) == 0 {
		return models.ReviewSession{}, ErrNoDueItems
	}

	batch := make([]string, len(due))
	for i, s := range due {
		batch[i] = s.ItemID
	}

	now = now.UTC()
	s := &session{ReviewSession: models.ReviewSession{
		SessionID:      e.newID(),
		LearnerID:      learnerID,
		CreatedAt:      now,
		LastActivityAt: now,
		Batch:          batch,
		Presented:      make(map[string]struct{}, len(batch)),
	}}

	e.mu.Lock()
	e.sessions[s.SessionID] = s
	e.mu.Unlock()

	e.log.Info().
		Str("session_id", s.SessionID).
		Str("learner_id", learnerID).
		Int("batch", len(batch)).
		Msg("review session started")

	return s.Snapshot(), nil
}

func (e *Engine) lookup(sessionID string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// GradeItem applies one grade to one item of the session and persists the
// result. An item can be graded once per session; a second grade is rejected
// and leaves the stored state as the first grade set it.
func (e *Engine) GradeItem(ctx context.Context, sessionID, itemID string, grade models.Grade, now time.Time) (models.ReviewState, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return models.ReviewState{}, err
	}

	// Held across the store call so grades of one session apply in order.
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.InBatch(itemID) {
		return models.ReviewState{}, fmt.Errorf("%w: %s", ErrItemNotInSession, itemID)
	}
	if s.WasPresented(itemID) {
		return models.ReviewState{}, fmt.Errorf("%w: %s", ErrAlreadyPresented, itemID)
	}
	if !grade.IsValid() {
		return models.ReviewState{}, fmt.Errorf("%w: %d", ErrInvalidGrade, int(grade))
	}

	next, err := e.store.Update(ctx, s.LearnerID, itemID, now, func(cur models.ReviewState) (models.ReviewState, *models.ReviewLog, error) {
		graded, err := e.scheduler.Grade(cur, grade, now)
		if err != nil {
			return models.ReviewState{}, nil, err
		}
		entry := models.NewReviewLog(sessionID, grade, cur, graded, now)
		return graded, &entry, nil
	})
	if err != nil {
		e.log.Error().Err(err).
			Str("session_id", sessionID).
			Str("item_id", itemID).
			Msg("failed to apply grade")
		return models.ReviewState{}, fmt.Errorf("grade %s: %w", itemID, err)
	}

	s.Presented[itemID] = struct{}{}
	s.CompletedCount++
	if grade.IsCorrect() {
		s.CorrectCount++
	}
	s.LastActivityAt = now.UTC()

	e.log.Debug().
		Str("session_id", sessionID).
		Str("item_id", itemID).
		Stringer("grade", grade).
		Str("state", string(next.State)).
		Int("interval_days", next.IntervalDays).
		Msg("grade applied")

	return next, nil
}

// Session returns a snapshot of a running session.
func (e *Engine) Session(sessionID string) (models.ReviewSession, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return models.ReviewSession{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Snapshot(), nil
}

// EndSession closes the session and returns its counters. Ungraded items keep
// their due dates and show up again in a later session.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (models.SessionSummary, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return models.SessionSummary{}, err
	}

	s.mu.Lock()
	summary := s.Summary()
	s.mu.Unlock()

	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	e.log.Info().
		Str("session_id", sessionID).
		Str("learner_id", summary.LearnerID).
		Int("completed", summary.CompletedCount).
		Int("correct", summary.CorrectCount).
		Int("total", summary.TotalCount).
		Msg("review session ended")

	return summary, nil
}

// SweepExpired forgets sessions idle for longer than the TTL and returns how
// many were dropped. The store is not touched.
func (e *Engine) SweepExpired(now time.Time) int {
	e.mu.Lock()
	candidates := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		candidates = append(candidates, s)
	}
	e.mu.Unlock()

	dropped := 0
	for _, s := range candidates {
		s.mu.Lock()
		expired := now.Sub(s.LastActivityAt) > e.ttl
		id := s.SessionID
		s.mu.Unlock()
		if !expired {
			continue
		}

		e.mu.Lock()
		if cur, ok := e.sessions[id]; ok && cur == s {
			delete(e.sessions, id)
			dropped++
		}
		e.mu.Unlock()
	}

	if dropped > 0 {
		e.log.Info().Int("sessions", dropped).Msg("swept idle review sessions")
	}
	return dropped
}

// ActiveSessions reports how many sessions are open.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reviewengine/internal/database"
	"github.com/example/reviewengine/internal/spaced_repetition"
	"github.com/example/reviewengine/internal/store"
	"github.com/example/reviewengine/pkg/models"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("session-%d", n)
	}
}

func newTestEngine(t *testing.T, st store.Store) *Engine {
	t.Helper()
	return NewEngine(st, spaced_repetition.NewSM2(), zerolog.Nop(), Options{
		NewSessionID: sequentialIDs(),
	})
}

// seed stores states for learner "l" due at the given offsets before t0.
func seed(t *testing.T, st store.Store, items map[string]time.Duration) {
	t.Helper()
	ctx := context.Background()
	for id, ago := range items {
		s := models.NewReviewState("l", id, t0.Add(-ago))
		s.State = models.StateReview
		s.IntervalDays = 3
		require.NoError(t, st.Save(ctx, s))
	}
}

func TestStartSessionNoDueItems(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore(false))

	_, err := e.StartSession(context.Background(), "l", 10, t0)
	require.ErrorIs(t, err, ErrNoDueItems)
	assert.Equal(t, 0, e.ActiveSessions())
}

func TestStartSessionRequiresLearner(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore(false))
	_, err := e.StartSession(context.Background(), "", 10, t0)
	require.Error(t, err)
}

func TestStartSessionBatchOrderAndLimit(t *testing.T) {
	st := store.NewMemoryStore(false)
	seed(t, st, map[string]time.Duration{
		"a": time.Hour,
		"b": 3 * time.Hour,
		"c": 2 * time.Hour,
		"d": -time.Hour, // not due yet
	})
	e := newTestEngine(t, st)

	sess, err := e.StartSession(context.Background(), "l", 2, t0)
	require.NoError(t, err)
	assert.Equal(t, "session-1", sess.SessionID)
	assert.Equal(t, []string{"b", "c"}, sess.Batch)
	assert.Empty(t, sess.Presented)
}

func TestStartSessionDefaultLimit(t *testing.T) {
	st := store.NewMemoryStore(false)
	items := make(map[string]time.Duration)
	for i := 0; i < 30; i++ {
		items[fmt.Sprintf("item-%02d", i)] = time.Duration(i+1) * time.Minute
	}
	seed(t, st, items)
	e := newTestEngine(t, st)

	sess, err := e.StartSession(context.Background(), "l", 0, t0)
	require.NoError(t, err)
	assert.Len(t, sess.Batch, DefaultLimit)
}

func TestGradeItemHappyPath(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(false)
	e := newTestEngine(t, st)
	require.NoError(t, e.Enroll(ctx, "l", t0, "new-item"))

	sess, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)
	require.Equal(t, []string{"new-item"}, sess.Batch)

	got, err := e.GradeItem(ctx, sess.SessionID, "new-item", models.Good, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StateLearning, got.State)
	assert.Equal(t, 1, got.IntervalDays)
	assert.Equal(t, 1, got.RepetitionCount)

	res := models.GradeResultOf(got)
	assert.Equal(t, "Learning", res.NewState)
	assert.Equal(t, t0.AddDate(0, 0, 1), res.NewDueAt)

	stored, err := st.Get(ctx, "l", "new-item")
	require.NoError(t, err)
	assert.Equal(t, got.IntervalDays, stored.IntervalDays)

	snap, err := e.Session(sess.SessionID)
	require.NoError(t, err)
	assert.True(t, snap.WasPresented("new-item"))
	assert.Empty(t, snap.Remaining())

	logs, err := st.ReviewLogs(ctx, "l")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, sess.SessionID, logs[0].SessionID)
}

func TestGradeItemTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(false)
	seed(t, st, map[string]time.Duration{"a": time.Hour})
	e := newTestEngine(t, st)

	sess, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)

	first, err := e.GradeItem(ctx, sess.SessionID, "a", models.Again, t0)
	require.NoError(t, err)

	_, err = e.GradeItem(ctx, sess.SessionID, "a", models.Again, t0.Add(time.Minute))
	require.ErrorIs(t, err, ErrAlreadyPresented)
	assert.True(t, IsCallerError(err))

	stored, err := st.Get(ctx, "l", "a")
	require.NoError(t, err)
	assert.Equal(t, first, *stored)
	assert.Equal(t, 1, stored.LapseCount)
}

func TestGradeItemNotInSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(false)
	seed(t, st, map[string]time.Duration{"a": time.Hour})
	e := newTestEngine(t, st)

	sess, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)

	_, err = e.GradeItem(ctx, sess.SessionID, "stranger", models.Good, t0)
	require.ErrorIs(t, err, ErrItemNotInSession)

	got, err := st.Get(ctx, "l", "stranger")
	require.NoError(t, err)
	assert.Nil(t, got, "store must stay untouched")
}

func TestGradeItemInvalidGrade(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(false)
	seed(t, st, map[string]time.Duration{"a": time.Hour})
	e := newTestEngine(t, st)

	sess, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)
	before, _ := st.Get(ctx, "l", "a")

	_, err = e.GradeItem(ctx, sess.SessionID, "a", models.Grade(7), t0)
	require.ErrorIs(t, err, ErrInvalidGrade)

	after, _ := st.Get(ctx, "l", "a")
	assert.Equal(t, before, after)

	// the item can still be graded properly afterwards
	_, err = e.GradeItem(ctx, sess.SessionID, "a", models.Good, t0)
	require.NoError(t, err)
}

func TestGradeItemUnknownSession(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore(false))
	_, err := e.GradeItem(context.Background(), "nope", "a", models.Good, t0)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGradeItemTombstonedMidSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(false)
	seed(t, st, map[string]time.Duration{"a": time.Hour, "b": 2 * time.Hour})
	e := newTestEngine(t, st)

	sess, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)

	n, err := e.Tombstone(ctx, "a", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.GradeItem(ctx, sess.SessionID, "a", models.Good, t0)
	require.ErrorIs(t, err, ErrTombstoned)

	due, err := e.DueItems(ctx, "l", 10, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b", due[0].ItemID)
}

type failingStore struct {
	*store.MemoryStore
	err error
}

func (f failingStore) Update(ctx context.Context, learnerID, itemID string, now time.Time, fn store.UpdateFunc) (models.ReviewState, error) {
	return models.ReviewState{}, f.err
}

func TestGradeItemStoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(false)
	seed(t, mem, map[string]time.Duration{"a": time.Hour})
	io := errors.New("disk on fire")
	e := newTestEngine(t, failingStore{MemoryStore: mem, err: io})

	sess, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)

	_, err = e.GradeItem(ctx, sess.SessionID, "a", models.Good, t0)
	require.ErrorIs(t, err, io)
	assert.False(t, IsCallerError(err))

	snap, err := e.Session(sess.SessionID)
	require.NoError(t, err)
	assert.False(t, snap.WasPresented("a"), "a failed grade must not burn the item")
}

func TestEndSessionPartial(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(false)
	seed(t, st, map[string]time.Duration{"a": 3 * time.Hour, "b": 2 * time.Hour, "c": time.Hour})
	e := newTestEngine(t, st)

	sess, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, sess.Batch)

	_, err = e.GradeItem(ctx, sess.SessionID, "a", models.Good, t0)
	require.NoError(t, err)
	_, err = e.GradeItem(ctx, sess.SessionID, "b", models.Again, t0)
	require.NoError(t, err)

	untouched, _ := st.Get(ctx, "l", "c")

	summary, err := e.EndSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionSummary{
		SessionID:      sess.SessionID,
		LearnerID:      "l",
		CompletedCount: 2,
		CorrectCount:   1,
		TotalCount:     3,
	}, summary)

	_, err = e.EndSession(ctx, sess.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	after, _ := st.Get(ctx, "l", "c")
	assert.Equal(t, untouched, after)

	// "c" is still due and "b" is due again tomorrow
	next, err := e.StartSession(ctx, "l", 10, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, next.Batch)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(false)
	seed(t, st, map[string]time.Duration{"a": time.Hour, "b": 2 * time.Hour})
	e := NewEngine(st, spaced_repetition.NewSM2(), zerolog.Nop(), Options{
		SessionTTL:   time.Hour,
		NewSessionID: sequentialIDs(),
	})

	idle, err := e.StartSession(ctx, "l", 1, t0)
	require.NoError(t, err)
	busy, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)
	_, err = e.GradeItem(ctx, busy.SessionID, "a", models.Good, t0.Add(50*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, e.SweepExpired(t0.Add(90*time.Minute)))
	_, err = e.Session(idle.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = e.Session(busy.SessionID)
	require.NoError(t, err)
}

func TestConcurrentSessionsSameItemSerializePerKey(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(false)
	seed(t, st, map[string]time.Duration{"a": time.Hour})
	e := newTestEngine(t, st)

	s1, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)
	s2, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{s1.SessionID, s2.SessionID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.GradeItem(ctx, id, "a", models.Again, t0)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	// Both grades land one after the other; neither write is torn.
	got, err := st.Get(ctx, "l", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.LapseCount)
	assert.Equal(t, 0, got.RepetitionCount)
	assert.Equal(t, int64(3), got.Version)
}

func TestEngineWithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := database.Connect(database.Config{Type: database.DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	repo := database.NewReviewStateRepository(db, false, zerolog.Nop())
	e := newTestEngine(t, repo)
	require.NoError(t, e.Enroll(ctx, "l", t0, "x", "y"))

	sess, err := e.StartSession(ctx, "l", 10, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, sess.Batch)

	for _, id := range sess.Batch {
		_, err := e.GradeItem(ctx, sess.SessionID, id, models.GradeFromCorrect(id == "x"), t0)
		require.NoError(t, err)
	}
	summary, err := e.EndSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.CompletedCount)
	assert.Equal(t, 1, summary.CorrectCount)

	_, err = e.StartSession(ctx, "l", 10, t0.Add(time.Hour))
	require.ErrorIs(t, err, ErrNoDueItems)

	due, err := e.DueItems(ctx, "l", 10, t0.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, due, 2)
	logs, err := repo.ReviewLogs(ctx, "l")
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reviewengine/internal/spaced_repetition"
	"github.com/example/reviewengine/internal/store"
	"github.com/example/reviewengine/pkg/models"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Connect(Config{Type: DialectSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRepo(t *testing.T, versioned bool) *ReviewStateRepository {
	return NewReviewStateRepository(setupTestDB(t), versioned, zerolog.Nop())
}

func TestConnectRejectsUnknownType(t *testing.T) {
	_, err := Connect(Config{Type: "oracle"})
	require.Error(t, err)

	_, err = Connect(Config{Type: DialectPostgres})
	require.Error(t, err)
}

func TestConnectSchemaIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, initializeSchema(db))
}

func TestRepositoryGetMissing(t *testing.T) {
	repo := newTestRepo(t, false)
	got, err := repo.Get(context.Background(), "l", "i")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepositoryGetOrCreate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)

	first, err := repo.GetOrCreate(ctx, "l", "i", t0)
	require.NoError(t, err)
	assert.Equal(t, models.StateNew, first.State)
	assert.True(t, first.DueAt.Equal(t0))
	assert.Nil(t, first.LastReviewedAt)
	assert.InDelta(t, models.DefaultEaseFactor, first.EaseFactor, 1e-9)

	second, err := repo.GetOrCreate(ctx, "l", "i", t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, second.DueAt.Equal(t0), "existing state must not be recreated")

	all, err := repo.ListByLearner(ctx, "l")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepositorySaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)

	s, err := repo.GetOrCreate(ctx, "l", "i", t0)
	require.NoError(t, err)

	next, err := spaced_repetition.NewSM2().Grade(s, models.Good, t0)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, next))

	got, err := repo.Get(ctx, "l", "i")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StateLearning, got.State)
	assert.Equal(t, 1, got.IntervalDays)
	assert.Equal(t, 1, got.RepetitionCount)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.LastReviewedAt)
	assert.True(t, got.LastReviewedAt.Equal(t0))
	assert.True(t, got.DueAt.Equal(t0.AddDate(0, 0, 1)))
}

func TestRepositoryVersionedSave(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, true)

	s, err := repo.GetOrCreate(ctx, "l", "i", t0)
	require.NoError(t, err)
	stale := s

	s.IntervalDays = 3
	require.NoError(t, repo.Save(ctx, s))

	stale.IntervalDays = 9
	err = repo.Save(ctx, stale)
	require.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := repo.Get(ctx, "l", "i")
	require.NoError(t, err)
	assert.Equal(t, 3, got.IntervalDays)

	fresh := models.NewReviewState("l", "new-item", t0)
	require.NoError(t, repo.Save(ctx, fresh))
	got, err = repo.Get(ctx, "l", "new-item")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)
}

func TestRepositoryUpdateWritesStateAndLog(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)
	sm := spaced_repetition.NewSM2()

	out, err := repo.Update(ctx, "l", "i", t0, func(cur models.ReviewState) (models.ReviewState, *models.ReviewLog, error) {
		next, err := sm.Grade(cur, models.Again, t0)
		if err != nil {
			return models.ReviewState{}, nil, err
		}
		entry := models.NewReviewLog("session-1", models.Again, cur, next, t0)
		return next, &entry, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateLearning, out.State)
	assert.Equal(t, 1, out.LapseCount)
	assert.Equal(t, int64(1), out.Version)

	logs, err := repo.ReviewLogs(ctx, "l")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.Again, logs[0].Grade)
	assert.Equal(t, models.StateNew, logs[0].StateBefore)
	assert.Equal(t, models.StateLearning, logs[0].StateAfter)
	assert.InDelta(t, 2.3, logs[0].EaseAfter, 1e-9)
	assert.True(t, logs[0].ReviewedAt.Equal(t0))

	n, err := repo.logs.CountByItem(ctx, "i")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRepositoryUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)
	boom := errors.New("boom")

	_, err := repo.Update(ctx, "l", "i", t0, func(cur models.ReviewState) (models.ReviewState, *models.ReviewLog, error) {
		return models.ReviewState{}, nil, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, "l", "i")
	require.NoError(t, err)
	assert.Nil(t, got, "the lazily created row is rolled back with the transaction")
}

func TestRepositoryTombstone(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)

	for _, l := range []string{"a", "b"} {
		_, err := repo.GetOrCreate(ctx, l, "gone", t0)
		require.NoError(t, err)
	}
	_, err := repo.GetOrCreate(ctx, "a", "kept", t0)
	require.NoError(t, err)

	n, err := repo.Tombstone(ctx, "gone", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.Tombstone(ctx, "gone", t0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	due, err := repo.ListDue(ctx, "a", t0.Add(1000*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "kept", due[0].ItemID)

	all, err := repo.ListByLearner(ctx, "a")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Tombstoned)
	require.NotNil(t, all[0].TombstonedAt)

	_, err = repo.Update(ctx, "a", "gone", t0, func(cur models.ReviewState) (models.ReviewState, *models.ReviewLog, error) {
		return cur, nil, nil
	})
	require.ErrorIs(t, err, store.ErrTombstoned)
}

func TestRepositoryListDueOrdering(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)
	now := t0

	seed := []struct {
		item  string
		due   time.Time
		state models.CardState
	}{
		{"review-late", now.Add(-1 * time.Hour), models.StateReview},
		{"future", now.Add(time.Hour), models.StateReview},
		{"oldest", now.Add(-72 * time.Hour), models.StateReview},
		{"tie-review", now.Add(-24 * time.Hour), models.StateReview},
		{"tie-relearn", now.Add(-24 * time.Hour), models.StateRelearning},
		{"tie-learn", now.Add(-24 * time.Hour), models.StateLearning},
		{"b-same", now.Add(-90 * time.Minute), models.StateReview},
		{"a-same", now.Add(-90 * time.Minute), models.StateReview},
	}
	for _, s := range seed {
		st := models.NewReviewState("l", s.item, s.due)
		st.State = s.state
		require.NoError(t, repo.Save(ctx, st))
	}

	due, err := repo.ListDue(ctx, "l", now, 0)
	require.NoError(t, err)
	ids := make([]string, len(due))
	for i, s := range due {
		ids[i] = s.ItemID
	}
	assert.Equal(t, []string{"oldest", "tie-relearn", "tie-learn", "tie-review", "a-same", "b-same", "review-late"}, ids)

	capped, err := repo.ListDue(ctx, "l", now, 3)
	require.NoError(t, err)
	require.Len(t, capped, 3)
	assert.Equal(t, "tie-learn", capped[2].ItemID)

	again, err := repo.ListDue(ctx, "l", now, 0)
	require.NoError(t, err)
	assert.Equal(t, due, again)
}

func TestReviewLogRepositoryOrdering(t *testing.T) {
	ctx := context.Background()
	logs := NewReviewLogRepository(setupTestDB(t))

	before := models.NewReviewState("alice", "a", t0)
	after := before
	after.State = models.StateLearning

	second := models.NewReviewLog("s", models.Good, before, after, t0.Add(time.Hour))
	first := models.NewReviewLog("s", models.Again, before, after, t0)
	other := models.NewReviewLog("s", models.Good, models.NewReviewState("bob", "a", t0), after, t0)
	other.LearnerID = "bob"
	require.NoError(t, logs.Create(ctx, &second))
	require.NoError(t, logs.Create(ctx, &first))
	require.NoError(t, logs.Create(ctx, &other))

	got, err := logs.GetByLearner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.Again, got[0].Grade)
	assert.Equal(t, models.Good, got[1].Grade)
	assert.True(t, got[0].ReviewedAt.Equal(t0))

	n, err := logs.CountByItem(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

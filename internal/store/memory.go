package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/reviewengine/internal/spaced_repetition"
	"github.com/example/reviewengine/pkg/models"
)

// MemoryStore keeps review states in process memory. It is safe for
// concurrent use and serializes writers per key.
type MemoryStore struct {
	mu        sync.RWMutex
	states    map[models.Key]models.ReviewState
	keyLocks  map[models.Key]*sync.Mutex
	logs      []models.ReviewLog
	versioned bool
}

// NewMemoryStore returns an empty store. With versioned set, Save refuses to
// overwrite a state whose Version differs from the stored one.
func NewMemoryStore(versioned bool) *MemoryStore {
	return &MemoryStore{
		states:    make(map[models.Key]models.ReviewState),
		keyLocks:  make(map[models.Key]*sync.Mutex),
		versioned: versioned,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) lockKey(k models.Key) func() {
	m.mu.Lock()
	l, ok := m.keyLocks[k]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[k] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *MemoryStore) Get(ctx context.Context, learnerID, itemID string) (*models.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[models.Key{LearnerID: learnerID, ItemID: itemID}]
	if !ok {
		return nil, nil
	}
	out := s.Clone()
	return &out, nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, learnerID, itemID string, now time.Time) (models.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return models.ReviewState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getOrCreateLocked(models.Key{LearnerID: learnerID, ItemID: itemID}, now), nil
}

func (m *MemoryStore) getOrCreateLocked(k models.Key, now time.Time) models.ReviewState {
	if s, ok := m.states[k]; ok {
		return s.Clone()
	}
	s := models.NewReviewState(k.LearnerID, k.ItemID, now)
	m.states[k] = s
	return s.Clone()
}

func (m *MemoryStore) Save(ctx context.Context, state models.ReviewState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.lockKey(state.Key())
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.saveLocked(state)
	return err
}

func (m *MemoryStore) saveLocked(state models.ReviewState) (models.ReviewState, error) {
	k := state.Key()
	cur, exists := m.states[k]
	if m.versioned && exists && cur.Version != state.Version {
		return models.ReviewState{}, ErrVersionConflict
	}
	state.Version = 1
	if exists {
		state.Version = cur.Version + 1
		state.CreatedAt = cur.CreatedAt
		// tombstones are sticky
		state.Tombstoned = cur.Tombstoned
		state.TombstonedAt = cur.TombstonedAt
	}
	m.states[k] = state.Clone()
	return state, nil
}

// Update holds the key lock for the whole cycle so concurrent updates of the
// same pair never interleave.
func (m *MemoryStore) Update(ctx context.Context, learnerID, itemID string, now time.Time, fn UpdateFunc) (models.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return models.ReviewState{}, err
	}
	k := models.Key{LearnerID: learnerID, ItemID: itemID}
	unlock := m.lockKey(k)
	defer unlock()

	m.mu.Lock()
	cur := m.getOrCreateLocked(k, now)
	m.mu.Unlock()

	if cur.Tombstoned {
		return models.ReviewState{}, ErrTombstoned
	}

	next, entry, err := fn(cur)
	if err != nil {
		return models.ReviewState{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[k].Tombstoned {
		return models.ReviewState{}, ErrTombstoned
	}
	saved, err := m.saveLocked(next)
	if err != nil {
		return models.ReviewState{}, err
	}
	if entry != nil {
		e := *entry
		e.ID = int64(len(m.logs) + 1)
		m.logs = append(m.logs, e)
	}
	return saved, nil
}

func (m *MemoryStore) Tombstone(ctx context.Context, itemID string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	n := 0
	for k, s := range m.states {
		if k.ItemID != itemID || s.Tombstoned {
			continue
		}
		at := now
		s.Tombstoned = true
		s.TombstonedAt = &at
		s.UpdatedAt = now
		s.Version++
		m.states[k] = s
		n++
	}
	return n, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, learnerID string, now time.Time, limit int) ([]models.ReviewState, error) {
	states, err := m.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	return spaced_repetition.SelectDue(states, now, limit), nil
}

func (m *MemoryStore) ListByLearner(ctx context.Context, learnerID string) ([]models.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ReviewState
	for k, s := range m.states {
		if k.LearnerID == learnerID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *MemoryStore) ReviewLogs(ctx context.Context, learnerID string) ([]models.ReviewLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ReviewLog
	for _, l := range m.logs {
		if l.LearnerID == learnerID {
			out = append(out, l)
		}
	}
	return out, nil
}

package spaced_repetition

import (
	"sort"
	"time"

	"github.com/example/reviewengine/pkg/models"
)

// statePriority orders states that are equally overdue. Lower comes first.
var statePriority = map[models.CardState]int{
	models.StateRelearning: 0,
	models.StateLearning:   1,
	models.StateReview:     2,
	models.StateNew:        3,
}

// StatePriority returns the tie-break rank of s; unknown states sort last.
func StatePriority(s models.CardState) int {
	if p, ok := statePriority[s]; ok {
		return p
	}
	return len(statePriority)
}

// IsDue reports whether the state may be presented at now.
func IsDue(state models.ReviewState, now time.Time) bool {
	return !state.Tombstoned && !state.DueAt.After(now)
}

// DueLess orders due states: most overdue first, then by state priority,
// then by item id.
func DueLess(a, b models.ReviewState, now time.Time) bool {
	// Overdue magnitude descending is the same as DueAt ascending for a fixed now.
	oa, ob := now.Sub(a.DueAt), now.Sub(b.DueAt)
	if oa != ob {
		return oa > ob
	}
	if pa, pb := StatePriority(a.State), StatePriority(b.State); pa != pb {
		return pa < pb
	}
	return a.ItemID < b.ItemID
}

// SortDue sorts states in place using DueLess.
func SortDue(states []models.ReviewState, now time.Time) {
	sort.SliceStable(states, func(i, j int) bool {
		return DueLess(states[i], states[j], now)
	})
}

// SelectDue filters states down to the due ones, orders them and caps the
// result at limit. A limit of zero or less means no cap.
func SelectDue(states []models.ReviewState, now time.Time, limit int) []models.ReviewState {
	due := make([]models.ReviewState, 0, len(states))
	for _, s := range states {
		if IsDue(s, now) {
			due = append(due, s)
		}
	}
	SortDue(due, now)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}

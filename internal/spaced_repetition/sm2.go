package spaced_repetition

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/reviewengine/pkg/models"
)

// ErrInvalidGrade is returned for a grade outside Again..Easy.
var ErrInvalidGrade = errors.New("spaced_repetition: invalid grade")

const (
	// MinEaseFactor is the floor the ease factor is clamped to after every update
	MinEaseFactor = 1.3
	// LapseEasePenalty is subtracted from the ease on every Again
	LapseEasePenalty = 0.2
	// DefaultMaxInterval caps intervals at roughly a hundred years
	DefaultMaxInterval = 36500
)

// DefaultLadder is the fixed interval table used when ease growth is disabled.
var DefaultLadder = []int{1, 2, 3, 7, 15, 25, 40}

var (
	gradeMultiplier = map[models.Grade]float64{models.Hard: 0.85, models.Good: 1.0, models.Easy: 1.3}
	easeDelta       = map[models.Grade]float64{models.Hard: -0.15, models.Good: 0, models.Easy: 0.10}
)

// SM2 implements an SM-2 family scheduler.
type SM2 struct {
	// Consecutive successes needed to leave Learning
	LearningGraduation int
	// Consecutive successes needed to leave Relearning
	RelearningGraduation int
	// Upper bound for intervals in days
	MaxInterval int
	// Fixed intervals indexed by repetition count. When empty, intervals grow by ease.
	Ladder []int
}

// NewSM2 returns a scheduler with the default graduation thresholds.
func NewSM2() *SM2 {
	return &SM2{
		LearningGraduation:   2,
		RelearningGraduation: 1,
		MaxInterval:          DefaultMaxInterval,
	}
}

// NewLadder returns a scheduler that uses the fixed DefaultLadder intervals.
func NewLadder() *SM2 {
	sm := NewSM2()
	sm.Ladder = append([]int(nil), DefaultLadder...)
	return sm
}

// Grade applies one graded review to state and returns the new state.
// The input is never modified; on error it is returned unchanged.
func (sm *SM2) Grade(state models.ReviewState, grade models.Grade, now time.Time) (models.ReviewState, error) {
	if !grade.IsValid() {
		return state, fmt.Errorf("%w: %d", ErrInvalidGrade, int(grade))
	}

	now = now.UTC()
	next := state.Clone()

	if grade == models.Again {
		next.LapseCount++
		next.RepetitionCount = 0
		next.EaseFactor = math.Max(MinEaseFactor, state.EaseFactor-LapseEasePenalty)
		next.IntervalDays = 1
		switch state.State {
		case models.StateNew, models.StateLearning:
			// never graduated, so this is not a relearn
			next.State = models.StateLearning
		default:
			next.State = models.StateRelearning
		}
	} else {
		next.RepetitionCount++
		next.IntervalDays = sm.nextInterval(state, grade, next.RepetitionCount)
		next.EaseFactor = math.Max(MinEaseFactor, state.EaseFactor+easeDelta[grade])
		next.State = sm.nextState(state.State, next.RepetitionCount)
	}

	next.LastReviewedAt = &now
	next.DueAt = now.AddDate(0, 0, next.IntervalDays)
	next.UpdatedAt = now
	return next, nil
}

// nextInterval computes the interval after a successful review.
func (sm *SM2) nextInterval(state models.ReviewState, grade models.Grade, repetitions int) int {
	var interval int
	switch {
	case len(sm.Ladder) > 0:
		idx := repetitions - 1
		if idx >= len(sm.Ladder) {
			idx = len(sm.Ladder) - 1
		}
		interval = sm.Ladder[idx]
	case state.IntervalDays == 0:
		interval = 1
	default:
		adjusted := state.EaseFactor * gradeMultiplier[grade]
		interval = int(math.Round(float64(state.IntervalDays) * adjusted))
	}

	if interval < 1 {
		interval = 1
	}
	if sm.MaxInterval > 0 && interval > sm.MaxInterval {
		interval = sm.MaxInterval
	}
	return interval
}

func (sm *SM2) nextState(current models.CardState, repetitions int) models.CardState {
	switch current {
	case models.StateNew:
		if repetitions >= sm.LearningGraduation {
			return models.StateReview
		}
		return models.StateLearning
	case models.StateLearning:
		if repetitions >= sm.LearningGraduation {
			return models.StateReview
		}
		return models.StateLearning
	case models.StateRelearning:
		if repetitions >= sm.RelearningGraduation {
			return models.StateReview
		}
		return models.StateRelearning
	default:
		return models.StateReview
	}
}

// IsMastered reports whether an item has settled into long intervals.
// Used only for reporting.
func (sm *SM2) IsMastered(state models.ReviewState) bool {
	return state.State == models.StateReview &&
		state.RepetitionCount >= 5 &&
		state.IntervalDays >= 30
}

package models

import "time"

// ReviewSession is one bounded pass over a batch of due items.
// It lives only in the orchestrator's memory.
type ReviewSession struct {
	SessionID      string              `json:"session_id"`
	LearnerID      string              `json:"learner_id"`
	CreatedAt      time.Time           `json:"created_at"`
	LastActivityAt time.Time           `json:"last_activity_at"`
	Batch          []string            `json:"batch"`
	Presented      map[string]struct{} `json:"-"`
	CompletedCount int                 `json:"completed_count"`
	CorrectCount   int                 `json:"correct_count"`
}

// InBatch reports whether itemID was drawn for this session.
func (s *ReviewSession) InBatch(itemID string) bool {
	for _, id := range s.Batch {
		if id == itemID {
			return true
		}
	}
	return false
}

// WasPresented reports whether itemID has already been graded this session.
func (s *ReviewSession) WasPresented(itemID string) bool {
	_, ok := s.Presented[itemID]
	return ok
}

// Remaining returns the batch items not graded yet, in batch order.
func (s *ReviewSession) Remaining() []string {
	out := make([]string, 0, len(s.Batch)-len(s.Presented))
	for _, id := range s.Batch {
		if !s.WasPresented(id) {
			out = append(out, id)
		}
	}
	return out
}

// Snapshot returns a copy that shares no mutable state with s.
func (s *ReviewSession) Snapshot() ReviewSession {
	out := *s
	out.Batch = append([]string(nil), s.Batch...)
	out.Presented = make(map[string]struct{}, len(s.Presented))
	for id := range s.Presented {
		out.Presented[id] = struct{}{}
	}
	return out
}

// Summary builds the end-of-session counters.
func (s *ReviewSession) Summary() SessionSummary {
	return SessionSummary{
		SessionID:      s.SessionID,
		LearnerID:      s.LearnerID,
		CompletedCount: s.CompletedCount,
		CorrectCount:   s.CorrectCount,
		TotalCount:     len(s.Batch),
	}
}

// SessionSummary is the attempt record handed back when a session ends.
type SessionSummary struct {
	SessionID      string `json:"session_id"`
	LearnerID      string `json:"learner_id"`
	CompletedCount int    `json:"completed_count"`
	CorrectCount   int    `json:"correct_count"`
	TotalCount     int    `json:"total_count"`
}

// GradeResult is the reply shape collaborators receive for a graded item.
type GradeResult struct {
	NewDueAt time.Time `json:"new_due_at"`
	NewState string    `json:"new_state"`
}

// GradeResultOf extracts the collaborator-facing result from a state.
func GradeResultOf(s ReviewState) GradeResult {
	return GradeResult{NewDueAt: s.DueAt, NewState: string(s.State)}
}

package journal

import "time"

// Decision is the outcome of the aggregation policy.
type Decision int

const (
	// CreateNew appends a journal with the next version number.
	CreateNew Decision = iota
	// Aggregate rewrites the predecessor in place, keeping its version.
	Aggregate
)

// decide coalesces rapid successive edits by the same user into one
// historical entry. Two distinct notes are never merged: if both the
// predecessor and the request carry notes the call creates a new journal.
func decide(pred *Journal, notes string, userID uint64, window time.Duration, now time.Time) Decision {
	if pred == nil || window <= 0 {
		return CreateNew
	}
	if pred.CreatedAt.Before(now.Add(-window)) {
		return CreateNew
	}
	if pred.UserID != userID {
		return CreateNew
	}
	if pred.Notes != "" && notes != "" {
		return CreateNew
	}
	return Aggregate
}

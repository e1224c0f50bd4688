package quiz

import (
	"time"

	"github.com/pavelanni/stepwise/internal/model"
)

// DefaultCooldown is the wait imposed after a failed attempt.
const DefaultCooldown = 2 * time.Hour

// Decision says whether a new attempt may start and, if not, when it may.
type Decision struct {
	Allowed bool       `json:"allowed"`
	RetryAt *time.Time `json:"retry_at,omitempty"`
}

// CanAttempt applies the cooldown of the latest attempt. Only the latest attempt
// matters; earlier attempts never block.
func CanAttempt(last *model.QuizAttempt, now time.Time) Decision {
	if last == nil || last.CanReattemptAt == nil {
		return Decision{Allowed: true}
	}
	if !now.Before(*last.CanReattemptAt) {
		return Decision{Allowed: true}
	}
	retryAt := *last.CanReattemptAt
	return Decision{Allowed: false, RetryAt: &retryAt}
}

// Latest returns the most recent attempt by AttemptedAt, preferring the higher
// ID on ties, or nil for no attempts. The input order does not matter.
func Latest(attempts []model.QuizAttempt) *model.QuizAttempt {
	if len(attempts) == 0 {
		return nil
	}
	latest := attempts[0]
	for _, a := range attempts[1:] {
		if a.AttemptedAt.After(latest.AttemptedAt) ||
			(a.AttemptedAt.Equal(latest.AttemptedAt) && a.ID > latest.ID) {
			latest = a
		}
	}
	return &latest
}

// ReattemptAt returns the earliest time a new attempt may start after an attempt
// made at attemptedAt, or nil when the attempt passed.
func ReattemptAt(passed bool, attemptedAt time.Time, cooldown time.Duration) *time.Time {
	if passed {
		return nil
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	t := attemptedAt.Add(cooldown)
	return &t
}

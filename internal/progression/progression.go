// Package progression decides which lessons of a subject a student may open.
//
// Lessons are ordered by LessonOrder. The first lesson is always open. Every
// later lesson opens once the previous lesson is completed and, when the lesson
// requires it, the student has passed a quiz on the previous lesson. A passing
// attempt completes its lesson, and completion is never undone.
package progression

import (
	"cmp"
	"slices"

	"github.com/pavelanni/stepwise/internal/model"
)

// State is a lesson's position in the progression for one user.
type State string

const (
	Locked             State = "locked"
	UnlockedNotStarted State = "unlocked_not_started"
	UnlockedCompleted  State = "unlocked_completed"
)

// Facts are the stored records about one lesson for one user.
type Facts struct {
	Progress *model.LessonProgress
	Attempts []model.QuizAttempt
}

// LessonStatus is a lesson together with its computed state.
type LessonStatus struct {
	Lesson   model.Lesson `json:"lesson"`
	Position int          `json:"position"`
	State    State        `json:"state"`
	Locked   bool         `json:"locked"`
}

// HasPassed reports whether any attempt passed.
func HasPassed(attempts []model.QuizAttempt) bool {
	return slices.ContainsFunc(attempts, func(a model.QuizAttempt) bool { return a.Passed })
}

// Completed reports whether a lesson counts as completed. A passed attempt
// completes the lesson even if the progress record has not been written.
func Completed(progress *model.LessonProgress, attempts []model.QuizAttempt) bool {
	if progress != nil && progress.Completed {
		return true
	}
	return HasPassed(attempts)
}

// IsLocked reports whether lesson is locked. previous is the lesson before it in
// subject order, or nil for the first lesson; prevProgress and prevAttempts are
// the user's records for previous.
func IsLocked(lesson model.Lesson, previous *model.Lesson, prevProgress *model.LessonProgress, prevAttempts []model.QuizAttempt) bool {
	if previous == nil {
		return false
	}
	if !Completed(prevProgress, prevAttempts) {
		return true
	}
	if lesson.RequiresPreviousQuiz && !HasPassed(prevAttempts) {
		return true
	}
	return false
}

// StateOf computes the full state of lesson given the records for it and for
// the previous lesson.
func StateOf(lesson model.Lesson, own Facts, previous *model.Lesson, prev Facts) State {
	if IsLocked(lesson, previous, prev.Progress, prev.Attempts) {
		return Locked
	}
	if Completed(own.Progress, own.Attempts) {
		return UnlockedCompleted
	}
	return UnlockedNotStarted
}

// CanMarkComplete reports whether a lesson may be completed without a quiz.
// next is the lesson after it in subject order, or nil for the last lesson.
func CanMarkComplete(next *model.Lesson) bool {
	return next == nil || !next.RequiresPreviousQuiz
}

// Sort orders lessons by LessonOrder, breaking ties by ID.
func Sort(lessons []model.Lesson) []model.Lesson {
	out := slices.Clone(lessons)
	slices.SortStableFunc(out, func(a, b model.Lesson) int {
		if c := cmp.Compare(a.LessonOrder, b.LessonOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Evaluate computes the state of every lesson of a subject. facts maps lesson
// ID to the user's records; missing entries mean no records.
func Evaluate(lessons []model.Lesson, facts map[int64]Facts) []LessonStatus {
	ordered := Sort(lessons)
	out := make([]LessonStatus, len(ordered))
	for i, l := range ordered {
		var prev *model.Lesson
		var prevFacts Facts
		if i > 0 {
			prev = &ordered[i-1]
			prevFacts = facts[prev.ID]
		}
		st := StateOf(l, facts[l.ID], prev, prevFacts)
		out[i] = LessonStatus{Lesson: l, Position: i, State: st, Locked: st == Locked}
	}
	return out
}

// Neighbors returns the lessons before and after lessonID in subject order.
// found is false when lessonID is not among lessons.
func Neighbors(lessons []model.Lesson, lessonID int64) (prev, next *model.Lesson, found bool) {
	ordered := Sort(lessons)
	for i := range ordered {
		if ordered[i].ID != lessonID {
			continue
		}
		if i > 0 {
			prev = &ordered[i-1]
		}
		if i+1 < len(ordered) {
			next = &ordered[i+1]
		}
		return prev, next, true
	}
	return nil, nil, false
}

// CompletionPercent is the share of completed lessons, rounded down, 0-100.
func CompletionPercent(statuses []LessonStatus) int {
	if len(statuses) == 0 {
		return 0
	}
	done := 0
	for _, s := range statuses {
		if s.State == UnlockedCompleted {
			done++
		}
	}
	return done * 100 / len(statuses)
}

package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/stepwise/internal/model"
)

// ExportAttempts builds export-ready results for every student. When subjectID
// is non-zero only that subject's lessons are included.
func (s *Store) ExportAttempts(ctx context.Context, subjectID int64) ([]model.StudentResult, error) {
	students, err := s.ListUsers(ctx, model.UserRoleStudent)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	lessons := make(map[int64]model.Lesson)
	loadLesson := func(id int64) (model.Lesson, error) {
		if l, ok := lessons[id]; ok {
			return l, nil
		}
		l, err := s.GetLesson(ctx, id)
		if err != nil {
			return model.Lesson{}, err
		}
		lessons[id] = *l
		return *l, nil
	}

	results := make([]model.StudentResult, 0, len(students))
	for _, u := range students {
		attempts, err := s.ListUserAttempts(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("list attempts for user %d: %w", u.ID, err)
		}
		completed, err := s.CountCompleted(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("count completed for user %d: %w", u.ID, err)
		}

		// Attempt numbers count per lesson.
		perLesson := make(map[int64]int)
		entries := make([]model.AttemptEntry, 0, len(attempts))
		for _, a := range attempts {
			l, err := loadLesson(a.LessonID)
			if err != nil {
				return nil, fmt.Errorf("get lesson %d: %w", a.LessonID, err)
			}
			if subjectID != 0 && l.SubjectID != subjectID {
				continue
			}
			perLesson[a.LessonID]++
			entries = append(entries, model.AttemptEntry{
				LessonID:       a.LessonID,
				LessonTitle:    l.Title,
				AttemptNumber:  perLesson[a.LessonID],
				Score:          a.Score,
				Passed:         a.Passed,
				AttemptedAt:    a.AttemptedAt,
				CanReattemptAt: a.CanReattemptAt,
			})
		}

		results = append(results, model.StudentResult{
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Completed:   completed,
			Attempts:    entries,
		})
	}
	return results, nil
}

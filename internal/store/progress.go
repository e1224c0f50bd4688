package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/stepwise/internal/model"
)

// GetProgress returns the user's progress on a lesson, or nil if there is no record.
func (s *Store) GetProgress(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	var p model.LessonProgress
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, lesson_id, completed, updated_at FROM lesson_progress
		 WHERE user_id = ? AND lesson_id = ?`, userID, lessonID,
	).Scan(&p.UserID, &p.LessonID, &p.Completed, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkComplete upserts a completed progress record. Calling it again leaves the
// record, including its timestamp, unchanged.
func (s *Store) MarkComplete(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_progress (user_id, lesson_id, completed, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(user_id, lesson_id) DO UPDATE SET
		   updated_at = CASE WHEN lesson_progress.completed THEN lesson_progress.updated_at ELSE excluded.updated_at END,
		   completed = 1`,
		userID, lessonID, s.now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	return s.GetProgress(ctx, userID, lessonID)
}

// CountCompleted returns how many lessons the user has completed.
func (s *Store) CountCompleted(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lesson_progress WHERE user_id = ? AND completed = 1`, userID,
	).Scan(&count)
	return count, err
}

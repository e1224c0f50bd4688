package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"
)

const attemptColumns = `id, user_id, lesson_id, score, passed, quiz_data, attempted_at, can_reattempt_at`

func scanAttempt(sc scanner) (model.QuizAttempt, error) {
	var (
		a         model.QuizAttempt
		quizData  string
		reattempt sql.NullTime
	)
	if err := sc.Scan(&a.ID, &a.UserID, &a.LessonID, &a.Score, &a.Passed, &quizData, &a.AttemptedAt, &reattempt); err != nil {
		return a, err
	}
	if reattempt.Valid {
		t := reattempt.Time
		a.CanReattemptAt = &t
	}
	if err := json.Unmarshal([]byte(quizData), &a.QuizData); err != nil {
		return a, fmt.Errorf("decode quiz data for attempt %d: %w", a.ID, err)
	}
	return a, nil
}

// RecordAttempt appends an attempt. A failed attempt gets a reattempt time
// one cooldown after it was made.
func (s *Store) RecordAttempt(ctx context.Context, rec model.AttemptRecord) (*model.QuizAttempt, error) {
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = s.now()
	}
	rec.AttemptedAt = rec.AttemptedAt.UTC()
	data, err := json.Marshal(rec.QuizData)
	if err != nil {
		return nil, fmt.Errorf("encode quiz data: %w", err)
	}
	reattemptAt := quiz.ReattemptAt(rec.Passed, rec.AttemptedAt, s.cooldown)

	var reattempt sql.NullTime
	if reattemptAt != nil {
		reattempt = sql.NullTime{Time: *reattemptAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_attempts (user_id, lesson_id, score, passed, quiz_data, attempted_at, can_reattempt_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.LessonID, rec.Score, rec.Passed, string(data), rec.AttemptedAt, reattempt,
	)
	if err != nil {
		slog.Error("failed to record attempt", "user_id", rec.UserID, "lesson_id", rec.LessonID, "error", err)
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.QuizAttempt{
		ID:             id,
		UserID:         rec.UserID,
		LessonID:       rec.LessonID,
		Score:          rec.Score,
		Passed:         rec.Passed,
		QuizData:       rec.QuizData,
		AttemptedAt:    rec.AttemptedAt,
		CanReattemptAt: reattemptAt,
	}, nil
}

// LatestAttempt returns the user's most recent attempt for a lesson, or nil if there is none.
func (s *Store) LatestAttempt(ctx context.Context, userID, lessonID int64) (*model.QuizAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = ? AND lesson_id = ? ORDER BY attempted_at DESC, id DESC LIMIT 1`, userID, lessonID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAttempts returns the user's attempts for a lesson, newest first.
func (s *Store) ListAttempts(ctx context.Context, userID, lessonID int64) ([]model.QuizAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = ? AND lesson_id = ? ORDER BY attempted_at DESC, id DESC`, userID, lessonID)
}

// ListUserAttempts returns every attempt of a user, oldest first.
func (s *Store) ListUserAttempts(ctx context.Context, userID int64) ([]model.QuizAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE user_id = ? ORDER BY id`, userID)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]model.QuizAttempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.QuizAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

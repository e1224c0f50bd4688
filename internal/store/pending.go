package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pavelanni/stepwise/internal/model"
)

// SavePendingQuiz stores a generated quiz until it is submitted or expires.
func (s *Store) SavePendingQuiz(ctx context.Context, pq model.PendingQuiz) error {
	data, err := json.Marshal(pq.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_quizzes (token, user_id, lesson_id, questions, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pq.Token, pq.UserID, pq.LessonID, string(data), pq.CreatedAt.UTC(), pq.ExpiresAt.UTC(),
	)
	return err
}

// GetPendingQuiz returns a pending quiz by token, or nil if it is missing or expired.
func (s *Store) GetPendingQuiz(ctx context.Context, token string) (*model.PendingQuiz, error) {
	var (
		pq        model.PendingQuiz
		questions string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, lesson_id, questions, created_at, expires_at
		 FROM pending_quizzes WHERE token = ?`, token,
	).Scan(&pq.Token, &pq.UserID, &pq.LessonID, &questions, &pq.CreatedAt, &pq.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.now().After(pq.ExpiresAt) {
		_ = s.DeletePendingQuiz(ctx, token)
		return nil, nil
	}
	if err := json.Unmarshal([]byte(questions), &pq.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return &pq, nil
}

// DeletePendingQuiz removes a pending quiz.
func (s *Store) DeletePendingQuiz(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_quizzes WHERE token = ?`, token)
	return err
}

// CleanupExpiredQuizzes removes every pending quiz past its expiry.
func (s *Store) CleanupExpiredQuizzes(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_quizzes WHERE expires_at < ?`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

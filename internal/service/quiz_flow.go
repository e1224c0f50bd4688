package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/stepwise/internal/event"
	"github.com/pavelanni/stepwise/internal/metrics"
	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/progression"
	"github.com/pavelanni/stepwise/internal/quiz"
)

// QuizView is a started quiz. Correct answers stay on the server.
type QuizView struct {
	Token        string                 `json:"token"`
	LessonID     int64                  `json:"lesson_id"`
	Questions    []model.PublicQuestion `json:"questions"`
	PassingScore int                    `json:"passing_score"`
	ExpiresAt    time.Time              `json:"expires_at"`
}

// SubmitResult is the graded outcome of a submitted quiz.
type SubmitResult struct {
	AttemptID         int64                    `json:"attempt_id"`
	LessonID          int64                    `json:"lesson_id"`
	Score             int                      `json:"score"`
	Passed            bool                     `json:"passed"`
	CorrectCount      int                      `json:"correct_count"`
	Total             int                      `json:"total"`
	Questions         []model.AnsweredQuestion `json:"questions"`
	RetryAt           *time.Time               `json:"retry_at,omitempty"`
	LessonCompleted   bool                     `json:"lesson_completed"`
	SuggestSimplified bool                     `json:"suggest_simplified"`
}

// StartQuiz generates a new quiz for an unlocked lesson whose cooldown has elapsed.
// Nothing is recorded until the quiz is submitted.
func (s *LessonService) StartQuiz(ctx context.Context, userID, lessonID int64, lang string) (*QuizView, error) {
	lc, err := s.loadLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if lc.state == progression.Locked {
		return nil, ErrLessonLocked
	}

	last, err := s.records.LatestAttempt(ctx, userID, lessonID)
	if err != nil {
		return nil, storeErr("load latest attempt", err)
	}
	now := s.now()
	if d := quiz.CanAttempt(last, now); !d.Allowed {
		metrics.CooldownBlocks.Inc()
		return nil, &CooldownError{RetryAt: *d.RetryAt}
	}

	questions, err := s.generate(ctx, lc.lesson, lang)
	if err != nil {
		return nil, err
	}

	pq := model.PendingQuiz{
		Token:     s.newToken(),
		UserID:    userID,
		LessonID:  lessonID,
		Questions: questions,
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(s.cfg.PendingTTL).UTC(),
	}
	if err := s.quizzes.SavePendingQuiz(ctx, pq); err != nil {
		metrics.PersistenceFailures.WithLabelValues("save_pending_quiz").Inc()
		slog.Error("failed to save pending quiz", "user_id", userID, "lesson_id", lessonID, "error", err)
		return nil, storeErr("save pending quiz", err)
	}

	slog.Info("quiz started", "user_id", userID, "lesson_id", lessonID, "questions", len(questions))
	return &QuizView{
		Token:        pq.Token,
		LessonID:     lessonID,
		Questions:    quiz.Public(questions),
		PassingScore: quiz.PassingScore,
		ExpiresAt:    pq.ExpiresAt,
	}, nil
}

func (s *LessonService) generate(ctx context.Context, lesson model.Lesson, lang string) ([]model.QuizQuestion, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()

	start := time.Now()
	questions, err := s.content.GenerateQuiz(genCtx, lesson.Content, lang)
	metrics.QuizGenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		status := "provider_error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.QuizGenerations.WithLabelValues(status).Inc()
		slog.Error("quiz generation failed", "lesson_id", lesson.ID, "status", status, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrContentGeneration, err)
	}
	if err := quiz.Validate(questions); err != nil {
		metrics.QuizGenerations.WithLabelValues("invalid").Inc()
		slog.Error("generated quiz rejected", "lesson_id", lesson.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrContentGeneration, err)
	}
	metrics.QuizGenerations.WithLabelValues("success").Inc()
	return questions, nil
}

// SubmitQuiz grades a pending quiz, records the attempt and, on a pass,
// completes the lesson. answers are keyed by question index.
//
// If the attempt was recorded but completing the lesson failed, the result is
// returned along with an ErrPersistence error and LessonCompleted is false.
// The passed attempt still lets MarkComplete finish the lesson later.
func (s *LessonService) SubmitQuiz(ctx context.Context, userID int64, token string, answers map[int]string) (*SubmitResult, error) {
	if token == "" {
		return nil, ErrInvalidInput
	}
	pq, err := s.quizzes.GetPendingQuiz(ctx, token)
	if err != nil {
		return nil, storeErr("load pending quiz", err)
	}
	if pq == nil || pq.UserID != userID {
		return nil, ErrQuizNotFound
	}

	lesson, err := s.records.GetLesson(ctx, pq.LessonID)
	if err != nil {
		return nil, storeErr("load lesson", err)
	}

	// Another submission may have failed since this quiz was started.
	last, err := s.records.LatestAttempt(ctx, userID, pq.LessonID)
	if err != nil {
		return nil, storeErr("load latest attempt", err)
	}
	now := s.now()
	if d := quiz.CanAttempt(last, now); !d.Allowed {
		metrics.CooldownBlocks.Inc()
		s.dropPending(ctx, token)
		return nil, &CooldownError{RetryAt: *d.RetryAt}
	}

	res := quiz.Grade(pq.Questions, answers)
	answered := quiz.Annotate(pq.Questions, answers, res)
	attempt, err := s.records.RecordAttempt(ctx, model.AttemptRecord{
		UserID:      userID,
		LessonID:    pq.LessonID,
		Score:       res.Score,
		Passed:      res.Passed,
		QuizData:    answered,
		AttemptedAt: now.UTC(),
	})
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("record_attempt").Inc()
		slog.Error("failed to record quiz attempt", "user_id", userID, "lesson_id", pq.LessonID, "error", err)
		return nil, storeErr("record attempt", err)
	}
	s.dropPending(ctx, token)

	result := "failed"
	if res.Passed {
		result = "passed"
	}
	metrics.QuizAttempts.WithLabelValues(result).Inc()
	s.publish(ctx, event.NewAttemptRecorded(userID, pq.LessonID, attempt.ID, res.Score, res.Passed))
	slog.Info("quiz attempt recorded", "user_id", userID, "lesson_id", pq.LessonID,
		"attempt_id", attempt.ID, "score", res.Score, "passed", res.Passed)

	out := &SubmitResult{
		AttemptID:    attempt.ID,
		LessonID:     pq.LessonID,
		Score:        res.Score,
		Passed:       res.Passed,
		CorrectCount: res.CorrectCount,
		Total:        res.Total,
		Questions:    answered,
		RetryAt:      attempt.CanReattemptAt,
	}
	if !res.Passed {
		out.SuggestSimplified = lesson.SimplifiedContent != ""
		return out, nil
	}

	// The attempt is saved at this point, so failures below still return the result.
	prev, err := s.records.GetProgress(ctx, userID, pq.LessonID)
	if err != nil {
		return out, storeErr("load progress", err)
	}
	if _, err := s.records.MarkComplete(ctx, userID, pq.LessonID); err != nil {
		metrics.PersistenceFailures.WithLabelValues("mark_complete").Inc()
		slog.Error("failed to mark lesson complete after passed quiz",
			"user_id", userID, "lesson_id", pq.LessonID, "attempt_id", attempt.ID, "error", err)
		return out, storeErr("mark complete", err)
	}
	out.LessonCompleted = true
	if prev == nil || !prev.Completed {
		metrics.LessonsCompleted.WithLabelValues("quiz").Inc()
		s.publish(ctx, event.NewLessonCompleted(userID, pq.LessonID))
	}
	return out, nil
}

func (s *LessonService) dropPending(ctx context.Context, token string) {
	if err := s.quizzes.DeletePendingQuiz(ctx, token); err != nil {
		slog.Warn("failed to delete pending quiz", "error", err)
	}
}

// Package service runs the lesson progression workflow: opening lessons,
// generating and grading quizzes and recording completion.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/stepwise/internal/event"
	"github.com/pavelanni/stepwise/internal/metrics"
	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/progression"
	"github.com/pavelanni/stepwise/internal/quiz"
)

// RecordStore holds lessons, quiz attempts and lesson progress.
// Implemented by store.Store and remote.Client.
type RecordStore interface {
	GetLesson(ctx context.Context, lessonID int64) (*model.Lesson, error)
	ListSubjectLessons(ctx context.Context, subjectID int64) ([]model.Lesson, error)
	LatestAttempt(ctx context.Context, userID, lessonID int64) (*model.QuizAttempt, error)
	ListAttempts(ctx context.Context, userID, lessonID int64) ([]model.QuizAttempt, error)
	RecordAttempt(ctx context.Context, rec model.AttemptRecord) (*model.QuizAttempt, error)
	GetProgress(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error)
	MarkComplete(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error)
	ListSubjects(ctx context.Context) ([]model.Subject, error)
	Ping(ctx context.Context) error
}

// QuizCache holds generated quizzes between StartQuiz and SubmitQuiz.
// Implemented by store.Store and cache.QuizCache.
type QuizCache interface {
	SavePendingQuiz(ctx context.Context, pq model.PendingQuiz) error
	GetPendingQuiz(ctx context.Context, token string) (*model.PendingQuiz, error)
	DeletePendingQuiz(ctx context.Context, token string) error
}

// TranslationCache stores lesson translations.
type TranslationCache interface {
	GetTranslation(ctx context.Context, lessonID int64, lang string) (*model.LessonTranslation, error)
	SaveTranslation(ctx context.Context, t model.LessonTranslation) error
}

// ContentProvider generates quizzes and other lesson material. Implemented by llm.Client.
type ContentProvider interface {
	GenerateQuiz(ctx context.Context, lessonContent, lang string) ([]model.QuizQuestion, error)
	Summarize(ctx context.Context, lessonContent, lang string) (string, error)
	Translate(ctx context.Context, title, content, lang string) (string, string, error)
}

// LessonService runs the workflow for one acting user per call.
type LessonService struct {
	records      RecordStore
	quizzes      QuizCache
	translations TranslationCache
	content      ContentProvider
	events       event.Publisher
	cfg          model.WorkflowConfig
	now          func() time.Time
	newToken     func() string
}

// NewLessonService wires the workflow. translations and events may be nil.
func NewLessonService(records RecordStore, quizzes QuizCache, translations TranslationCache,
	content ContentProvider, events event.Publisher, cfg model.WorkflowConfig) *LessonService {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = quiz.DefaultCooldown
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 30 * time.Second
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = time.Hour
	}
	return &LessonService{
		records:      records,
		quizzes:      quizzes,
		translations: translations,
		content:      content,
		events:       events,
		cfg:          cfg,
		now:          time.Now,
		newToken:     uuid.NewString,
	}
}

// LessonView is a lesson as seen by one user.
type LessonView struct {
	Lesson        model.Lesson          `json:"lesson"`
	State         progression.State     `json:"state"`
	Progress      *model.LessonProgress `json:"progress,omitempty"`
	LatestAttempt *model.QuizAttempt    `json:"latest_attempt,omitempty"`
	Cooldown      quiz.Decision         `json:"cooldown"`
	QuizRequired  bool                  `json:"quiz_required"`
	PreviousID    *int64                `json:"previous_lesson_id,omitempty"`
	NextID        *int64                `json:"next_lesson_id,omitempty"`
}

// SubjectView lists a subject's lessons with their states.
type SubjectView struct {
	SubjectID       int64                      `json:"subject_id"`
	Lessons         []progression.LessonStatus `json:"lessons"`
	CompletionPct   int                        `json:"completion_percent"`
	CompletedCount  int                        `json:"completed_count"`
	TotalLessons    int                        `json:"total_lessons"`
	CurrentLessonID *int64                     `json:"current_lesson_id,omitempty"`
}

// lessonContext is everything needed to decide what a user may do with a lesson.
type lessonContext struct {
	lesson   model.Lesson
	prev     *model.Lesson
	next     *model.Lesson
	own      progression.Facts
	prevFact progression.Facts
	state    progression.State
}

func (s *LessonService) facts(ctx context.Context, userID, lessonID int64) (progression.Facts, error) {
	p, err := s.records.GetProgress(ctx, userID, lessonID)
	if err != nil {
		return progression.Facts{}, storeErr("load progress", err)
	}
	attempts, err := s.records.ListAttempts(ctx, userID, lessonID)
	if err != nil {
		return progression.Facts{}, storeErr("load attempts", err)
	}
	return progression.Facts{Progress: p, Attempts: attempts}, nil
}

func (s *LessonService) loadLesson(ctx context.Context, userID, lessonID int64) (*lessonContext, error) {
	lesson, err := s.records.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, storeErr("load lesson", err)
	}
	lessons, err := s.records.ListSubjectLessons(ctx, lesson.SubjectID)
	if err != nil {
		return nil, storeErr("load subject lessons", err)
	}

	lc := &lessonContext{lesson: *lesson}
	prev, next, found := progression.Neighbors(lessons, lesson.ID)
	if found {
		lc.prev, lc.next = prev, next
	} else {
		slog.Warn("lesson missing from its subject listing", "lesson_id", lesson.ID, "subject_id", lesson.SubjectID)
	}

	if lc.own, err = s.facts(ctx, userID, lesson.ID); err != nil {
		return nil, err
	}
	if lc.prev != nil {
		if lc.prevFact, err = s.facts(ctx, userID, lc.prev.ID); err != nil {
			return nil, err
		}
	}
	lc.state = progression.StateOf(lc.lesson, lc.own, lc.prev, lc.prevFact)
	return lc, nil
}

// Lesson returns a lesson for userID, or ErrLessonLocked if it is not open yet.
func (s *LessonService) Lesson(ctx context.Context, userID, lessonID int64) (*LessonView, error) {
	lc, err := s.loadLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if lc.state == progression.Locked {
		return nil, ErrLessonLocked
	}
	last := quiz.Latest(lc.own.Attempts)
	view := &LessonView{
		Lesson:        lc.lesson,
		State:         lc.state,
		Progress:      lc.own.Progress,
		LatestAttempt: last,
		Cooldown:      quiz.CanAttempt(last, s.now()),
		QuizRequired:  !progression.CanMarkComplete(lc.next),
	}
	if lc.prev != nil {
		view.PreviousID = &lc.prev.ID
	}
	if lc.next != nil {
		view.NextID = &lc.next.ID
	}
	return view, nil
}

// SubjectLessons returns every lesson of a subject with its state for userID.
// Lesson bodies are left out of the listing.
func (s *LessonService) SubjectLessons(ctx context.Context, userID, subjectID int64) (*SubjectView, error) {
	lessons, err := s.records.ListSubjectLessons(ctx, subjectID)
	if err != nil {
		return nil, storeErr("load subject lessons", err)
	}
	if len(lessons) == 0 {
		return nil, model.ErrNotFound
	}

	facts := make(map[int64]progression.Facts, len(lessons))
	for _, l := range lessons {
		f, err := s.facts(ctx, userID, l.ID)
		if err != nil {
			return nil, err
		}
		facts[l.ID] = f
	}

	statuses := progression.Evaluate(lessons, facts)
	view := &SubjectView{
		SubjectID:     subjectID,
		Lessons:       statuses,
		CompletionPct: progression.CompletionPercent(statuses),
		TotalLessons:  len(statuses),
	}
	for i := range statuses {
		st := &view.Lessons[i]
		st.Lesson.Content = ""
		st.Lesson.SimplifiedContent = ""
		switch st.State {
		case progression.UnlockedCompleted:
			view.CompletedCount++
		case progression.UnlockedNotStarted:
			if view.CurrentLessonID == nil {
				id := st.Lesson.ID
				view.CurrentLessonID = &id
			}
		}
	}
	return view, nil
}

// MarkComplete completes a lesson without a quiz. It is rejected when moving
// past the lesson is quiz-gated and the user has not passed its quiz.
func (s *LessonService) MarkComplete(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	lc, err := s.loadLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if lc.state == progression.Locked {
		return nil, ErrLessonLocked
	}
	if !progression.CanMarkComplete(lc.next) && !progression.HasPassed(lc.own.Attempts) {
		return nil, ErrQuizRequired
	}

	wasCompleted := lc.own.Progress != nil && lc.own.Progress.Completed
	p, err := s.records.MarkComplete(ctx, userID, lessonID)
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("mark_complete").Inc()
		slog.Error("failed to mark lesson complete", "user_id", userID, "lesson_id", lessonID, "error", err)
		return nil, storeErr("mark complete", err)
	}
	if !wasCompleted {
		metrics.LessonsCompleted.WithLabelValues("manual").Inc()
		s.publish(ctx, event.NewLessonCompleted(userID, lessonID))
		slog.Info("lesson completed", "user_id", userID, "lesson_id", lessonID, "via", "manual")
	}
	return p, nil
}

// Attempts returns the user's attempt history for a lesson, newest first.
func (s *LessonService) Attempts(ctx context.Context, userID, lessonID int64) ([]model.QuizAttempt, error) {
	if _, err := s.records.GetLesson(ctx, lessonID); err != nil {
		return nil, storeErr("load lesson", err)
	}
	attempts, err := s.records.ListAttempts(ctx, userID, lessonID)
	if err != nil {
		return nil, storeErr("load attempts", err)
	}
	return attempts, nil
}

// Subjects lists the subjects of the active record store.
func (s *LessonService) Subjects(ctx context.Context) ([]model.Subject, error) {
	subjects, err := s.records.ListSubjects(ctx)
	if err != nil {
		return nil, storeErr("list subjects", err)
	}
	return subjects, nil
}

// Ping checks that the record store is reachable.
func (s *LessonService) Ping(ctx context.Context) error {
	return s.records.Ping(ctx)
}

func (s *LessonService) publish(ctx context.Context, ev event.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}

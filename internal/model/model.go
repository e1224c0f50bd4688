package model

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is a school admin user role.
	UserRoleAdmin UserRole = "admin"
)

// IsValid reports whether r is a known role.
func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleStudent, UserRoleTeacher, UserRoleAdmin:
		return true
	}
	return false
}

// CanReview reports whether the role may read other users' progress.
func (r UserRole) CanReview() bool {
	return r == UserRoleTeacher || r == UserRoleAdmin
}

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// QuestionType is the kind of a quiz question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionFillInBlank    QuestionType = "fill_in_the_blank"
)

// QuestionTypes lists every question type a quiz must cover.
var QuestionTypes = []QuestionType{QuestionMultipleChoice, QuestionTrueFalse, QuestionFillInBlank}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists the difficulty levels in ascending order.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// Subject groups an ordered sequence of lessons.
type Subject struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ClassName string `json:"class_name,omitempty"`
}

// Lesson is a unit of content within a subject.
type Lesson struct {
	ID                   int64  `json:"id"`
	SubjectID            int64  `json:"subject_id"`
	Title                string `json:"title"`
	Content              string `json:"content"`
	SimplifiedContent    string `json:"simplified_content,omitempty"`
	VideoURL             string `json:"video_url,omitempty"`
	AudioURL             string `json:"audio_url,omitempty"`
	ImageURL             string `json:"image_url,omitempty"`
	LessonOrder          int    `json:"lesson_order"`
	RequiresPreviousQuiz bool   `json:"requires_previous_quiz"`
}

// QuizQuestion is a single generated question.
type QuizQuestion struct {
	QuestionText  string       `json:"question_text" validate:"required"`
	QuestionType  QuestionType `json:"question_type" validate:"required,oneof=multiple_choice true_false fill_in_the_blank"`
	Options       []string     `json:"options,omitempty" validate:"omitempty,dive,required"`
	CorrectAnswer string       `json:"correct_answer" validate:"required"`
	Difficulty    Difficulty   `json:"difficulty" validate:"required,oneof=easy medium hard"`
}

// PublicQuestion is a quiz question as shown to a student, without the answer.
type PublicQuestion struct {
	Index        int          `json:"index"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	Options      []string     `json:"options,omitempty"`
	Difficulty   Difficulty   `json:"difficulty"`
}

// AnsweredQuestion is a question together with the student's answer, as stored in an attempt.
type AnsweredQuestion struct {
	QuizQuestion
	UserAnswer string `json:"user_answer"`
	Correct    bool   `json:"is_correct"`
}

// QuizAttempt is one graded submission of a generated quiz. Attempts are append-only.
type QuizAttempt struct {
	ID             int64              `json:"id"`
	UserID         int64              `json:"user_id"`
	LessonID       int64              `json:"lesson_id"`
	Score          int                `json:"score"`
	Passed         bool               `json:"passed"`
	QuizData       []AnsweredQuestion `json:"quiz_data"`
	AttemptedAt    time.Time          `json:"attempted_at"`
	CanReattemptAt *time.Time         `json:"can_reattempt_at,omitempty"`
}

// AttemptRecord is the input for recording a new attempt.
type AttemptRecord struct {
	UserID      int64
	LessonID    int64
	Score       int
	Passed      bool
	QuizData    []AnsweredQuestion
	AttemptedAt time.Time
}

// LessonProgress tracks whether a user has completed a lesson.
type LessonProgress struct {
	UserID    int64     `json:"user_id"`
	LessonID  int64     `json:"lesson_id"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingQuiz is a generated quiz waiting for the student's submission.
type PendingQuiz struct {
	Token     string         `json:"token"`
	UserID    int64          `json:"user_id"`
	LessonID  int64          `json:"lesson_id"`
	Questions []QuizQuestion `json:"questions"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// LessonTranslation is a cached translation of a lesson's text.
type LessonTranslation struct {
	LessonID int64  `json:"lesson_id"`
	Language string `json:"language"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

// WorkflowConfig holds runtime workflow parameters set via CLI flags.
type WorkflowConfig struct {
	Cooldown      time.Duration // wait after a failed attempt
	LLMTimeout    time.Duration // bound on a single quiz generation
	PendingTTL    time.Duration // how long a generated quiz can be submitted
	DefaultLang   string
	MaxUploadSize int64
	SecureCookies bool
	RemoteRecords bool // lessons, attempts and progress live in the platform API
}

// SubjectImport is used for loading a subject with its lessons from JSON.
type SubjectImport struct {
	Name      string         `json:"name" validate:"required"`
	ClassName string         `json:"class_name"`
	Lessons   []LessonImport `json:"lessons" validate:"required,min=1,dive"`
}

// LessonImport is one lesson within a SubjectImport.
type LessonImport struct {
	Title                string `json:"title" validate:"required"`
	Content              string `json:"content" validate:"required"`
	SimplifiedContent    string `json:"simplified_content"`
	VideoURL             string `json:"video_url" validate:"omitempty,url"`
	AudioURL             string `json:"audio_url" validate:"omitempty,url"`
	ImageURL             string `json:"image_url" validate:"omitempty,url"`
	LessonOrder          int    `json:"lesson_order" validate:"gte=0"`
	RequiresPreviousQuiz bool   `json:"requires_previous_quiz"`
}

// ImportResult reports the outcome of importing one lessons file.
type ImportResult struct {
	SubjectID int64 `json:"subject_id,omitempty"`
	Lessons   int   `json:"lessons"`
	Skipped   bool  `json:"skipped"`
}

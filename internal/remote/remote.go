// Package remote is a record store backed by the learning platform's REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"
)

// ErrNoUserToken is returned when a per-user call has no user credential in its context.
var ErrNoUserToken = errors.New("no platform token for the acting user")

type tokenKey struct{}

// ContextWithToken returns a context carrying the acting user's platform API token.
// The platform attributes attempts and progress to the token's owner.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the platform API token stored by ContextWithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Client talks to the platform API. The API computes can_reattempt_at itself.
type Client struct {
	http *resty.Client
}

// New creates a client for the API at baseURL. The service token, if any,
// is used for calls made without a user token, such as lesson reads and health checks.
func New(baseURL, token string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetAuthScheme("Token")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// request starts a request authenticated as the acting user when the context has a token.
func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if token := TokenFromContext(ctx); token != "" {
		r.SetAuthToken(token)
	}
	return r
}

// userRequest is like request but fails without a user token, since the
// platform records writes under the caller.
func (c *Client) userRequest(ctx context.Context) (*resty.Request, error) {
	if TokenFromContext(ctx) == "" {
		return nil, ErrNoUserToken
	}
	return c.request(ctx), nil
}

type apiLesson struct {
	ID                   int64  `json:"id"`
	Subject              int64  `json:"subject"`
	Title                string `json:"title"`
	Content              string `json:"content"`
	SimplifiedContent    string `json:"simplified_content"`
	VideoURL             string `json:"video_url"`
	AudioURL             string `json:"audio_url"`
	ImageURL             string `json:"image_url"`
	LessonOrder          int    `json:"lesson_order"`
	RequiresPreviousQuiz bool   `json:"requires_previous_quiz"`
}

func (a apiLesson) toModel() model.Lesson {
	return model.Lesson{
		ID:                   a.ID,
		SubjectID:            a.Subject,
		Title:                a.Title,
		Content:              a.Content,
		SimplifiedContent:    a.SimplifiedContent,
		VideoURL:             a.VideoURL,
		AudioURL:             a.AudioURL,
		ImageURL:             a.ImageURL,
		LessonOrder:          a.LessonOrder,
		RequiresPreviousQuiz: a.RequiresPreviousQuiz,
	}
}

type apiAttempt struct {
	ID             int64                    `json:"id"`
	User           int64                    `json:"user"`
	Lesson         int64                    `json:"lesson"`
	Score          int                      `json:"score"`
	Passed         bool                     `json:"passed"`
	QuizData       []model.AnsweredQuestion `json:"quiz_data"`
	AttemptedAt    time.Time                `json:"attempted_at"`
	CanReattemptAt *time.Time               `json:"can_reattempt_at"`
}

func (a apiAttempt) toModel() model.QuizAttempt {
	return model.QuizAttempt{
		ID:             a.ID,
		UserID:         a.User,
		LessonID:       a.Lesson,
		Score:          a.Score,
		Passed:         a.Passed,
		QuizData:       a.QuizData,
		AttemptedAt:    a.AttemptedAt,
		CanReattemptAt: a.CanReattemptAt,
	}
}

type apiSubject struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ClassObjName string `json:"class_obj_name"`
}

type apiProgress struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Lesson      int64     `json:"lesson"`
	Completed   bool      `json:"completed"`
	LastUpdated time.Time `json:"last_updated"`
}

func (p apiProgress) toModel() model.LessonProgress {
	return model.LessonProgress{
		UserID:    p.UserID,
		LessonID:  p.Lesson,
		Completed: p.Completed,
		UpdatedAt: p.LastUpdated,
	}
}

// decodeList accepts either a bare JSON array or a paginated {"results": [...]} object.
func decodeList[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if body[0] == '[' {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func checkResponse(resp *resty.Response, what string) error {
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s %s returned %d", what, resp.Request.Method, resp.Request.URL, resp.StatusCode())
	}
	return nil
}

// GetLesson returns a lesson by ID.
func (c *Client) GetLesson(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	var l apiLesson
	resp, err := c.request(ctx).
		SetResult(&l).
		SetPathParam("id", id(lessonID)).
		Get("/lessons/{id}/")
	if err != nil {
		return nil, fmt.Errorf("get lesson %d: %w", lessonID, err)
	}
	if err := checkResponse(resp, fmt.Sprintf("lesson %d", lessonID)); err != nil {
		return nil, err
	}
	lesson := l.toModel()
	return &lesson, nil
}

// ListSubjectLessons returns the lessons of a subject in lesson order.
func (c *Client) ListSubjectLessons(ctx context.Context, subjectID int64) ([]model.Lesson, error) {
	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{"subject": id(subjectID), "ordering": "lesson_order"}).
		Get("/lessons/")
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	if err := checkResponse(resp, "list lessons"); err != nil {
		return nil, err
	}
	items, err := decodeList[apiLesson](resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decode lessons: %w", err)
	}
	lessons := make([]model.Lesson, len(items))
	for i, it := range items {
		lessons[i] = it.toModel()
	}
	return lessons, nil
}

// ListAttempts returns the user's attempts for a lesson, newest first.
// The platform scopes the list to the token's owner; userID only labels the results.
func (c *Client) ListAttempts(ctx context.Context, userID, lessonID int64) ([]model.QuizAttempt, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	resp, err := req.
		SetQueryParams(map[string]string{
			"lesson":   id(lessonID),
			"ordering": "-attempted_at",
		}).
		Get("/ai-quiz-attempts/")
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if err := checkResponse(resp, "list attempts"); err != nil {
		return nil, err
	}
	items, err := decodeList[apiAttempt](resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}
	attempts := make([]model.QuizAttempt, len(items))
	for i, it := range items {
		attempts[i] = it.toModel()
		attempts[i].UserID = userID
	}
	return attempts, nil
}

// LatestAttempt returns the user's most recent attempt for a lesson, or nil if there is none.
func (c *Client) LatestAttempt(ctx context.Context, userID, lessonID int64) (*model.QuizAttempt, error) {
	attempts, err := c.ListAttempts(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	// Do not trust the server ordering alone.
	return quiz.Latest(attempts), nil
}

// RecordAttempt posts a new attempt. The API assigns can_reattempt_at.
func (c *Client) RecordAttempt(ctx context.Context, rec model.AttemptRecord) (*model.QuizAttempt, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	var created apiAttempt
	resp, err := req.
		SetBody(map[string]any{
			"lesson_id": rec.LessonID,
			"score":     rec.Score,
			"passed":    rec.Passed,
			"quiz_data": rec.QuizData,
		}).
		SetResult(&created).
		Post("/ai-quiz-attempts/")
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	if err := checkResponse(resp, "record attempt"); err != nil {
		return nil, err
	}
	a := created.toModel()
	if a.LessonID == 0 {
		a.LessonID = rec.LessonID
	}
	// The platform knows the user by its own ID; report ours.
	a.UserID = rec.UserID
	return &a, nil
}

// GetProgress returns the user's progress on a lesson, or nil if there is no record.
// Like ListAttempts it reads the token owner's records.
func (c *Client) GetProgress(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	resp, err := req.
		SetQueryParam("lesson", id(lessonID)).
		Get("/userprogress/")
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if err := checkResponse(resp, "get progress"); err != nil {
		return nil, err
	}
	items, err := decodeList[apiProgress](resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	// A completed row wins over any stale incomplete one.
	var found *model.LessonProgress
	for _, it := range items {
		p := it.toModel()
		p.UserID = userID
		if found == nil || (p.Completed && !found.Completed) {
			found = &p
		}
	}
	return found, nil
}

// MarkComplete marks a lesson completed for the user. An existing completed
// record is returned unchanged.
func (c *Client) MarkComplete(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("mark complete: %w", err)
	}
	existing, err := c.GetProgress(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Completed {
		return existing, nil
	}

	var created apiProgress
	resp, err := req.
		SetBody(map[string]any{"lesson_id": lessonID, "completed": true}).
		SetResult(&created).
		Post("/userprogress/")
	if err != nil {
		return nil, fmt.Errorf("mark complete: %w", err)
	}
	if err := checkResponse(resp, "mark complete"); err != nil {
		return nil, err
	}
	p := created.toModel()
	p.UserID, p.LessonID, p.Completed = userID, lessonID, true
	return &p, nil
}

// ListSubjects returns the subjects visible to the caller.
func (c *Client) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	resp, err := c.request(ctx).
		SetQueryParam("ordering", "name").
		Get("/subjects/")
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	if err := checkResponse(resp, "list subjects"); err != nil {
		return nil, err
	}
	items, err := decodeList[apiSubject](resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decode subjects: %w", err)
	}
	subjects := make([]model.Subject, len(items))
	for i, it := range items {
		subjects[i] = model.Subject{ID: it.ID, Name: it.Name, ClassName: it.ClassObjName}
	}
	return subjects, nil
}

// Ping checks that the platform API answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("page_size", "1").
		Get("/subjects/")
	if err != nil {
		return fmt.Errorf("ping records API: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("ping records API: status %d", resp.StatusCode())
	}
	return nil
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/stepwise/internal/i18n"
	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/service"
	"github.com/pavelanni/stepwise/internal/store"
)

type stubContent struct {
	err error

	mu       sync.Mutex
	quizLang string
}

func (s *stubContent) GenerateQuiz(_ context.Context, _, lang string) ([]model.QuizQuestion, error) {
	s.mu.Lock()
	s.quizLang = lang
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []model.QuizQuestion{
		{QuestionText: "Which planet is largest?", QuestionType: model.QuestionMultipleChoice,
			Options: []string{"Mars", "Jupiter"}, CorrectAnswer: "Jupiter", Difficulty: model.DifficultyEasy},
		{QuestionText: "The Sun is a star.", QuestionType: model.QuestionTrueFalse, CorrectAnswer: "True", Difficulty: model.DifficultyEasy},
		{QuestionText: "Earth has ___ moon(s).", QuestionType: model.QuestionFillInBlank, CorrectAnswer: "one", Difficulty: model.DifficultyMedium},
		{QuestionText: "Mars is red.", QuestionType: model.QuestionTrueFalse, CorrectAnswer: "True", Difficulty: model.DifficultyMedium},
		{QuestionText: "Pluto is a planet.", QuestionType: model.QuestionTrueFalse, CorrectAnswer: "False", Difficulty: model.DifficultyHard},
	}, nil
}

func (s *stubContent) Summarize(_ context.Context, _, lang string) (string, error) {
	return "short " + lang, s.err
}

func (s *stubContent) Translate(_ context.Context, title, content, lang string) (string, string, error) {
	return title + " (" + lang + ")", content, s.err
}

func (s *stubContent) lastQuizLang() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quizLang
}

// flakyRecords fails lesson completion on demand.
type flakyRecords struct {
	*store.Store
	failComplete atomic.Bool
}

func (f *flakyRecords) MarkComplete(ctx context.Context, userID, lessonID int64) (*model.LessonProgress, error) {
	if f.failComplete.Load() {
		return nil, errors.New("disk I/O error")
	}
	return f.Store.MarkComplete(ctx, userID, lessonID)
}

var correctAnswers = map[string]map[int]string{
	"answers": {0: "Jupiter", 1: "True", 2: "one", 3: "True", 4: "False"},
}

type testServer struct {
	url       string
	store     *store.Store
	records   *flakyRecords
	content   *stubContent
	subjectID int64
	lessons   []int64
	ids       map[string]int64

	// platform tokens by session token, sent in remote mode
	recordsTokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))

	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	subjectID, err := st.ImportSubject(ctx, model.SubjectImport{
		Name: "Astronomy",
		Lessons: []model.LessonImport{
			{Title: "Planets", Content: "Planets orbit the Sun.", LessonOrder: 0},
			{Title: "Stars", Content: "Stars are hot.", LessonOrder: 1, RequiresPreviousQuiz: true},
		},
	})
	require.NoError(t, err)
	lessons, err := st.ListSubjectLessons(ctx, subjectID)
	require.NoError(t, err)

	ts := &testServer{store: st, records: &flakyRecords{Store: st}, content: &stubContent{}, subjectID: subjectID}
	for _, l := range lessons {
		ts.lessons = append(ts.lessons, l.ID)
	}
	ts.addUsers(t)

	cfg := model.WorkflowConfig{Cooldown: 2 * time.Hour, LLMTimeout: time.Second, PendingTTL: time.Hour}
	svc := service.NewLessonService(ts.records, st, st, ts.content, nil, cfg)
	ts.serve(t, svc, cfg)
	return ts
}

func (ts *testServer) addUsers(t *testing.T) {
	t.Helper()
	ts.ids = map[string]int64{}
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	for _, u := range []struct {
		name string
		role model.UserRole
	}{{"alice", model.UserRoleStudent}, {"bob", model.UserRoleStudent}, {"tess", model.UserRoleTeacher}, {"root", model.UserRoleAdmin}} {
		id, err := ts.store.CreateUser(context.Background(), model.User{Username: u.name, DisplayName: u.name, PasswordHash: string(hash), Role: u.role, Active: true})
		require.NoError(t, err)
		ts.ids[u.name] = id
	}
}

func (ts *testServer) serve(t *testing.T, svc *service.LessonService, cfg model.WorkflowConfig) {
	t.Helper()
	r := chi.NewRouter()
	New(svc, ts.store, cfg).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	ts.url = srv.URL
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.url+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if rt := ts.recordsTokens[token]; rt != "" {
		req.Header.Set(RecordsTokenHeader, rt)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": username, "password": "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	if ts.recordsTokens != nil {
		ts.recordsTokens[out.Token] = "tok-" + username
	}
	return out.Token
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) lessonPath(i int, suffix string) string {
	return "/api/lessons/" + strconv.FormatInt(ts.lessons[i], 10) + suffix
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginAndLogout(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := ts.login(t, "alice")
	resp = ts.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[model.User](t, resp)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, model.UserRoleStudent, me.Role)

	resp = ts.do(t, http.MethodPost, "/api/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQuizFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")

	resp := ts.do(t, http.MethodGet, ts.lessonPath(1, ""), token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, ts.lessonPath(0, "/quiz"), token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "correct_answer")
	var qv service.QuizView
	require.NoError(t, json.Unmarshal(body, &qv))
	assert.Len(t, qv.Questions, 5)

	// Another student cannot submit this quiz.
	other := ts.login(t, "bob")
	resp = ts.do(t, http.MethodPost, "/api/quizzes/"+qv.Token+"/submit", other, correctAnswers)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/quizzes/"+qv.Token+"/submit", token, correctAnswers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]any](t, resp)
	assert.Equal(t, float64(100), res["score"])
	assert.Equal(t, true, res["passed"])
	assert.Equal(t, true, res["lesson_completed"])
	assert.Equal(t, "Quiz passed with 100%.", res["message"])

	resp = ts.do(t, http.MethodGet, ts.lessonPath(1, ""), token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, ts.lessonPath(0, "/attempts"), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	attempts := decode[[]model.QuizAttempt](t, resp)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Passed)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/subjects/%d/lessons", ts.subjectID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sv := decode[service.SubjectView](t, resp)
	assert.Equal(t, 50, sv.CompletionPct)
}

func TestCooldownResponse(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")

	resp := ts.do(t, http.MethodPost, ts.lessonPath(0, "/quiz"), token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	qv := decode[service.QuizView](t, resp)

	resp = ts.do(t, http.MethodPost, "/api/quizzes/"+qv.Token+"/submit", token, map[string]any{"answers": map[int]string{0: "Mars"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]any](t, resp)
	assert.Equal(t, float64(0), res["score"])
	assert.NotEmpty(t, res["retry_at"])

	resp = ts.do(t, http.MethodPost, ts.lessonPath(0, "/quiz"), token, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	wait, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 7200, wait, 60)
	er := decode[errorResponse](t, resp)
	assert.Equal(t, "ErrCooldownActive", er.Error)
	require.NotNil(t, er.RetryAt)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), *er.RetryAt, time.Minute)
}

func TestLocalizedErrors(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")

	req, err := http.NewRequest(http.MethodPost, ts.url+ts.lessonPath(0, "/complete"), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	er := decode[errorResponse](t, resp)
	assert.Equal(t, "ErrQuizRequired", er.Error)
	assert.Equal(t, "Этот урок завершается сдачей теста.", er.Message)
}

func TestQuizLanguageFromAcceptLanguage(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")

	req, err := http.NewRequest(http.MethodPost, ts.url+ts.lessonPath(0, "/quiz"), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ru", ts.content.lastQuizLang())

	resp = ts.do(t, http.MethodPost, ts.lessonPath(0, "/quiz?lang=es"), token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "es", ts.content.lastQuizLang())
}

func TestSubmitReportsSavedAttemptWhenCompletionFails(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")

	resp := ts.do(t, http.MethodPost, ts.lessonPath(0, "/quiz"), token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	qv := decode[service.QuizView](t, resp)

	ts.records.failComplete.Store(true)
	resp = ts.do(t, http.MethodPost, "/api/quizzes/"+qv.Token+"/submit", token, correctAnswers)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	er := decode[errorResponse](t, resp)
	assert.Equal(t, "ErrAttemptSaved", er.Error)
	require.NotNil(t, er.Attempt)
	assert.Equal(t, 100, er.Attempt.Score)
	assert.True(t, er.Attempt.Passed)
	assert.False(t, er.Attempt.LessonCompleted)

	// The saved pass lets the student complete the lesson by hand.
	ts.records.failComplete.Store(false)
	resp = ts.do(t, http.MethodPost, ts.lessonPath(0, "/complete"), token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestContentGenerationFailure(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")
	ts.content.err = errors.New("model unavailable")

	resp := ts.do(t, http.MethodPost, ts.lessonPath(0, "/quiz"), token, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, ts.lessonPath(0, "/summary"), token, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSummaryAndTranslation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")

	resp := ts.do(t, http.MethodGet, ts.lessonPath(0, "/summary?lang=ru"), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "short ru", decode[map[string]any](t, resp)["summary"])

	resp = ts.do(t, http.MethodGet, ts.lessonPath(0, "/translation?lang=es"), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decode[model.LessonTranslation](t, resp)
	assert.Equal(t, "Planets (es)", tr.Title)

	resp = ts.do(t, http.MethodGet, ts.lessonPath(0, "/translation"), token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReviewOtherUser(t *testing.T) {
	ts := newTestServer(t)
	student := ts.login(t, "alice")
	teacher := ts.login(t, "tess")
	bobPath := fmt.Sprintf("/api/subjects/%d/lessons?user_id=%d", ts.subjectID, ts.ids["bob"])

	resp := ts.do(t, http.MethodGet, bobPath, student, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, bobPath, teacher, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, ts.lessonPath(0, "/attempts?user_id=abc"), teacher, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/subjects/%d/export", ts.subjectID), student, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/subjects/%d/export", ts.subjectID), teacher, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	export := decode[model.AttemptExport](t, resp)
	assert.Equal(t, "Astronomy", export.Subject)
	assert.Len(t, export.Results, 2)
}

func TestAdminUsers(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "root")
	student := ts.login(t, "alice")

	resp := ts.do(t, http.MethodGet, "/api/admin/users", student, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/admin/users", admin, map[string]string{"username": "carol", "password": "longenough"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.User](t, resp)
	assert.Equal(t, model.UserRoleStudent, created.Role)
	assert.Equal(t, "carol", created.DisplayName)

	resp = ts.do(t, http.MethodPost, "/api/admin/users", admin, map[string]string{"username": "carol", "password": "longenough"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, "/api/admin/users", admin, map[string]string{"username": "dave", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/admin/users?role=student", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.User](t, resp), 3)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/toggle", ts.ids["alice"]), admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, resp)["active"])

	resp = ts.do(t, http.MethodGet, "/api/me", student, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/admin/users/9999/toggle", admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadLessons(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "root")

	upload := func(content string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("lessons_file", "biology.json")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, ts.url+"/api/admin/lessons", &buf)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+admin)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	good := `{"name": "Biology", "lessons": [{"title": "Cells", "content": "Cells are small.", "lesson_order": 0}]}`
	resp := upload(good)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[map[string]any](t, resp)
	assert.Equal(t, "1 lesson imported.", out["message"])

	resp = upload(good)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = upload(`{"name": "Broken", "lessons": []}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/subjects", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subjects := decode[[]model.Subject](t, resp)
	var names []string
	for _, s := range subjects {
		names = append(names, s.Name)
	}
	assert.Equal(t, "Astronomy,Biology", strings.Join(names, ","))
}

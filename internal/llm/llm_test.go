package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"
)

// fakeEndpoint serves an OpenAI-compatible API that answers every chat
// completion with content.
func fakeEndpoint(t *testing.T, content string, gotPrompt *string) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if gotPrompt != nil && len(req.Messages) > 0 {
			*gotPrompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"test-model:latest","object":"model"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/v1", "test-key", "test-model")
}

const quizJSON = `{"questions": [
 {"question_text": "Which planet is largest?", "question_type": "multiple_choice", "options": ["Mars", "Jupiter", "Venus", "Earth"], "correct_answer": "Jupiter", "difficulty": "easy"},
 {"question_text": "The Sun is a star.", "question_type": "True_False", "correct_answer": "true", "difficulty": "Easy"},
 {"question_text": "Water boils at ___ degrees.", "question_type": "fill_in_the_blank", "options": [], "correct_answer": "100", "difficulty": "medium"},
 {"question_text": "Earth has ___ moon(s).", "question_type": "fill_in_the_blank", "correct_answer": "one", "difficulty": "medium"},
 {"question_text": "Pluto is a planet.", "question_type": "true_false", "correct_answer": "False", "difficulty": "hard"}
]}`

func TestGenerateQuiz(t *testing.T) {
	var prompt string
	c := fakeEndpoint(t, quizJSON, &prompt)

	questions, err := c.GenerateQuiz(context.Background(), "<p>The solar system.</p>", "")
	if err != nil {
		t.Fatalf("GenerateQuiz: %v", err)
	}
	if len(questions) != quiz.QuizSize {
		t.Fatalf("got %d questions", len(questions))
	}
	if questions[1].QuestionType != model.QuestionTrueFalse || questions[1].CorrectAnswer != "True" || questions[1].Difficulty != model.DifficultyEasy {
		t.Errorf("question 1 not normalized: %+v", questions[1])
	}
	if questions[2].Options != nil {
		t.Errorf("fill-in-the-blank options not cleared: %v", questions[2].Options)
	}
	if err := quiz.Validate(questions); err != nil {
		t.Errorf("generated quiz should validate: %v", err)
	}
	if !strings.Contains(prompt, "The solar system.") {
		t.Errorf("prompt did not include lesson content: %s", prompt)
	}
}

func TestGenerateQuizBadJSON(t *testing.T) {
	c := fakeEndpoint(t, "not json at all", nil)
	if _, err := c.GenerateQuiz(context.Background(), "content", ""); err == nil {
		t.Error("expected parse error")
	}
}

func TestGenerateQuizServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL+"/v1", "k", "m")

	if _, err := c.GenerateQuiz(context.Background(), "content", ""); err == nil {
		t.Error("expected API error")
	}
}

func TestSummarize(t *testing.T) {
	c := fakeEndpoint(t, `{"summary": "<h4>Key points</h4><ul><li>Stars are hot</li></ul>"}`, nil)
	got, err := c.Summarize(context.Background(), "Stars are hot.", "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.HasPrefix(got, "<h4>") {
		t.Errorf("unexpected summary %q", got)
	}

	empty := fakeEndpoint(t, `{"summary": "  "}`, nil)
	if _, err := empty.Summarize(context.Background(), "x", ""); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestTranslate(t *testing.T) {
	var prompt string
	c := fakeEndpoint(t, `{"title": "Estrellas", "content": "<p>Las estrellas son calientes.</p>"}`, &prompt)
	title, content, err := c.Translate(context.Background(), "Stars", "<p>Stars are hot.</p>", "es")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if title != "Estrellas" || content != "<p>Las estrellas son calientes.</p>" {
		t.Errorf("got %q / %q", title, content)
	}
	if !strings.Contains(prompt, "Spanish") {
		t.Error("prompt should name the target language")
	}
}

func TestPing(t *testing.T) {
	c := fakeEndpoint(t, "{}", nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

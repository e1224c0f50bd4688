package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/stepwise/internal/llm/prompts"
	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model answers with no usable content.
var ErrEmptyResponse = errors.New("LLM returned no choices")

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Ping checks that the endpoint answers and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model || strings.TrimSuffix(m.ID, ":latest") == c.model {
			return nil
		}
	}
	slog.Warn("configured model not listed by LLM endpoint", "model", c.model, "available", len(models.Models))
	return nil
}

type quizResponse struct {
	Questions []model.QuizQuestion `json:"questions"`
}

// GenerateQuiz asks the model for a quiz on lessonContent. The result is not
// validated; callers check it with quiz.Validate.
func (c *Client) GenerateQuiz(ctx context.Context, lessonContent, lang string) ([]model.QuizQuestion, error) {
	prompt, err := prompts.BuildQuizPrompt(lessonContent, quiz.QuizSize, lang)
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, prompt, 0.7)
	if err != nil {
		return nil, fmt.Errorf("quiz generation: %w", err)
	}

	var resp quizResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse quiz response: %w (raw: %s)", err, raw)
	}
	return normalizeQuestions(resp.Questions), nil
}

// Summarize returns an HTML summary of a lesson.
func (c *Client) Summarize(ctx context.Context, lessonContent, lang string) (string, error) {
	prompt, err := prompts.BuildSummaryPrompt(lessonContent, lang)
	if err != nil {
		return "", err
	}
	raw, err := c.complete(ctx, prompt, 0.3)
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}

	var resp struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("parse summary response: %w (raw: %s)", err, raw)
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Summary, nil
}

// Translate translates a lesson title and HTML content into lang.
func (c *Client) Translate(ctx context.Context, title, content, lang string) (string, string, error) {
	prompt, err := prompts.BuildTranslatePrompt(title, content, lang)
	if err != nil {
		return "", "", err
	}
	raw, err := c.complete(ctx, prompt, 0.1)
	if err != nil {
		return "", "", fmt.Errorf("translation: %w", err)
	}

	var resp struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", "", fmt.Errorf("parse translation response: %w (raw: %s)", err, raw)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", "", ErrEmptyResponse
	}
	return resp.Title, resp.Content, nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}

// normalizeQuestions cleans up harmless formatting differences in model output.
func normalizeQuestions(questions []model.QuizQuestion) []model.QuizQuestion {
	for i := range questions {
		q := &questions[i]
		q.QuestionText = strings.TrimSpace(q.QuestionText)
		q.QuestionType = model.QuestionType(strings.ToLower(strings.TrimSpace(string(q.QuestionType))))
		q.Difficulty = model.Difficulty(strings.ToLower(strings.TrimSpace(string(q.Difficulty))))
		if q.QuestionType == model.QuestionTrueFalse {
			switch strings.ToLower(strings.TrimSpace(q.CorrectAnswer)) {
			case "true":
				q.CorrectAnswer = "True"
			case "false":
				q.CorrectAnswer = "False"
			}
			q.Options = nil
		}
		if q.QuestionType == model.QuestionFillInBlank {
			q.Options = nil
		}
	}
	return questions
}

package quiz

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/stepwise/internal/model"
)

// QuizSize is the number of questions every generated quiz must have.
const QuizSize = 5

// ErrInvalidQuiz is returned when generated content does not form a usable quiz.
var ErrInvalidQuiz = errors.New("invalid quiz")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Struct validates any struct carrying `validate` tags with the package validator.
func Struct(s any) error {
	return validate.Struct(s)
}

// Validate checks a generated quiz before it is shown to a student. It wraps
// ErrInvalidQuiz with the first problem found.
func Validate(questions []model.QuizQuestion) error {
	if len(questions) != QuizSize {
		return fmt.Errorf("%w: got %d questions, want %d", ErrInvalidQuiz, len(questions), QuizSize)
	}

	types := make(map[model.QuestionType]bool)
	difficulties := make(map[model.Difficulty]bool)
	for i, q := range questions {
		if err := validate.Struct(q); err != nil {
			return fmt.Errorf("%w: question %d: %v", ErrInvalidQuiz, i, err)
		}
		if err := checkAnswerShape(q); err != nil {
			return fmt.Errorf("%w: question %d: %v", ErrInvalidQuiz, i, err)
		}
		types[q.QuestionType] = true
		difficulties[q.Difficulty] = true
	}

	for _, t := range model.QuestionTypes {
		if !types[t] {
			return fmt.Errorf("%w: no %s question", ErrInvalidQuiz, t)
		}
	}
	if len(difficulties) < len(model.Difficulties) {
		slog.Warn("generated quiz does not cover every difficulty", "levels", len(difficulties))
	}
	return nil
}

func checkAnswerShape(q model.QuizQuestion) error {
	switch q.QuestionType {
	case model.QuestionMultipleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("multiple choice needs at least 2 options, got %d", len(q.Options))
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return fmt.Errorf("correct answer %q is not among the options", q.CorrectAnswer)
		}
	case model.QuestionTrueFalse:
		if q.CorrectAnswer != "True" && q.CorrectAnswer != "False" {
			return fmt.Errorf("true/false answer must be True or False, got %q", q.CorrectAnswer)
		}
	case model.QuestionFillInBlank:
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			return errors.New("blank correct answer")
		}
	}
	return nil
}

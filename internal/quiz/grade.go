// Package quiz grades generated lesson quizzes and decides when a student may try again.
package quiz

import (
	"math"
	"strings"

	"github.com/pavelanni/stepwise/internal/model"
)

// PassingScore is the minimum score (out of 100) that passes a quiz.
const PassingScore = 75

// Result is the outcome of grading one submission.
type Result struct {
	Score        int    `json:"score"`
	Passed       bool   `json:"passed"`
	CorrectCount int    `json:"correct_count"`
	Total        int    `json:"total"`
	Correct      []bool `json:"correct"`
}

// Grade scores answers against questions. Answers are keyed by question index;
// a missing answer counts as incorrect and indices outside the quiz are ignored.
func Grade(questions []model.QuizQuestion, answers map[int]string) Result {
	res := Result{
		Total:   len(questions),
		Correct: make([]bool, len(questions)),
	}
	for i, q := range questions {
		answer, ok := answers[i]
		if !ok {
			continue
		}
		if IsCorrect(q, answer) {
			res.Correct[i] = true
			res.CorrectCount++
		}
	}
	res.Score = Score(res.CorrectCount, res.Total)
	res.Passed = res.Score >= PassingScore
	return res
}

// Score converts a correct count into a 0-100 score.
func Score(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

// IsCorrect reports whether answer matches the question's correct answer.
// Fill-in-the-blank answers ignore surrounding whitespace and case.
func IsCorrect(q model.QuizQuestion, answer string) bool {
	if q.QuestionType == model.QuestionFillInBlank {
		return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.CorrectAnswer))
	}
	return answer == q.CorrectAnswer
}

// Annotate pairs each question with the submitted answer and its correctness,
// producing the quiz data stored with an attempt.
func Annotate(questions []model.QuizQuestion, answers map[int]string, res Result) []model.AnsweredQuestion {
	out := make([]model.AnsweredQuestion, len(questions))
	for i, q := range questions {
		out[i] = model.AnsweredQuestion{
			QuizQuestion: q,
			UserAnswer:   answers[i],
			Correct:      i < len(res.Correct) && res.Correct[i],
		}
	}
	return out
}

// Public strips correct answers from questions before they are shown.
func Public(questions []model.QuizQuestion) []model.PublicQuestion {
	out := make([]model.PublicQuestion, len(questions))
	for i, q := range questions {
		out[i] = model.PublicQuestion{
			Index:        i,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Options:      q.Options,
			Difficulty:   q.Difficulty,
		}
	}
	return out
}

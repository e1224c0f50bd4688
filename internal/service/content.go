package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/progression"
)

// Summary asks the content provider for a short summary of an unlocked lesson.
func (s *LessonService) Summary(ctx context.Context, userID, lessonID int64, lang string) (string, error) {
	lc, err := s.loadLesson(ctx, userID, lessonID)
	if err != nil {
		return "", err
	}
	if lc.state == progression.Locked {
		return "", ErrLessonLocked
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	summary, err := s.content.Summarize(genCtx, lc.lesson.Content, lang)
	if err != nil {
		slog.Error("lesson summary failed", "lesson_id", lessonID, "error", err)
		return "", fmt.Errorf("%w: %w", ErrContentGeneration, err)
	}
	return summary, nil
}

// Translation returns an unlocked lesson's title and content in lang,
// generating and caching it on first request.
func (s *LessonService) Translation(ctx context.Context, userID, lessonID int64, lang string) (*model.LessonTranslation, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return nil, ErrInvalidInput
	}
	lc, err := s.loadLesson(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	if lc.state == progression.Locked {
		return nil, ErrLessonLocked
	}

	if s.translations != nil {
		cached, err := s.translations.GetTranslation(ctx, lessonID, lang)
		if err != nil {
			slog.Warn("failed to read cached translation", "lesson_id", lessonID, "lang", lang, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	title, content, err := s.content.Translate(genCtx, lc.lesson.Title, lc.lesson.Content, lang)
	if err != nil {
		slog.Error("lesson translation failed", "lesson_id", lessonID, "lang", lang, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrContentGeneration, err)
	}

	t := model.LessonTranslation{LessonID: lessonID, Language: lang, Title: title, Content: content}
	if s.translations != nil {
		if err := s.translations.SaveTranslation(ctx, t); err != nil {
			slog.Warn("failed to cache translation", "lesson_id", lessonID, "lang", lang, "error", err)
		}
	}
	return &t, nil
}

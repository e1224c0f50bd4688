package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/stepwise/internal/model"
)

// GetImportedFileHash returns the content hash recorded for an imported lessons file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the content hash of an imported lessons file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, s.now().UTC(),
	)
	return err
}

// GetTranslation returns a cached lesson translation, or nil if there is none.
func (s *Store) GetTranslation(ctx context.Context, lessonID int64, lang string) (*model.LessonTranslation, error) {
	t := model.LessonTranslation{LessonID: lessonID, Language: lang}
	err := s.db.QueryRowContext(ctx,
		`SELECT title, content FROM lesson_translations WHERE lesson_id = ? AND language = ?`,
		lessonID, lang,
	).Scan(&t.Title, &t.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTranslation caches a lesson translation, replacing any previous one.
func (s *Store) SaveTranslation(ctx context.Context, t model.LessonTranslation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_translations (lesson_id, language, title, content) VALUES (?, ?, ?, ?)
		 ON CONFLICT(lesson_id, language) DO UPDATE SET title = excluded.title, content = excluded.content`,
		t.LessonID, t.Language, t.Title, t.Content,
	)
	return err
}

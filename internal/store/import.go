package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"
)

// ErrInvalidImport is returned for a lessons file that does not decode or validate.
var ErrInvalidImport = errors.New("invalid lessons file")

// ContentHash returns the hex SHA-256 of data as recorded for imported files.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ImportSubjectFile imports a subject with its lessons from JSON data. A file
// whose name and content hash match a previous import is skipped.
func (s *Store) ImportSubjectFile(ctx context.Context, name string, data []byte) (model.ImportResult, error) {
	hash := ContentHash(data)

	stored, err := s.GetImportedFileHash(ctx, name)
	if err != nil {
		return model.ImportResult{}, fmt.Errorf("check import status: %w", err)
	}
	if stored == hash {
		slog.Info("lessons file unchanged, skipping", "file", name)
		return model.ImportResult{Skipped: true}, nil
	}

	var si model.SubjectImport
	if err := json.Unmarshal(data, &si); err != nil {
		return model.ImportResult{}, fmt.Errorf("%w: %s: %v", ErrInvalidImport, name, err)
	}
	if err := quiz.Struct(si); err != nil {
		return model.ImportResult{}, fmt.Errorf("%w: %s: %v", ErrInvalidImport, name, err)
	}

	subjectID, err := s.ImportSubject(ctx, si)
	if err != nil {
		return model.ImportResult{}, fmt.Errorf("import %s: %w", name, err)
	}
	if err := s.SetImportedFileHash(ctx, name, hash); err != nil {
		slog.Error("failed to record import", "file", name, "error", err)
	}
	slog.Info("imported lessons", "file", name, "subject", si.Name, "subject_id", subjectID, "count", len(si.Lessons))
	return model.ImportResult{SubjectID: subjectID, Lessons: len(si.Lessons)}, nil
}

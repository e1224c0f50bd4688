package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed record store.
type Store struct {
	db       *sql.DB
	cooldown time.Duration
	now      func() time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, cooldown: quiz.DefaultCooldown, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetCooldown sets how long a failed attempt blocks the next one.
func (s *Store) SetCooldown(d time.Duration) {
	if d > 0 {
		s.cooldown = d
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		class_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS lessons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		simplified_content TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		lesson_order INTEGER NOT NULL DEFAULT 0,
		requires_previous_quiz BOOLEAN NOT NULL DEFAULT 0,
		FOREIGN KEY (subject_id) REFERENCES subjects(id)
	);
	CREATE INDEX IF NOT EXISTS idx_lessons_subject ON lessons(subject_id, lesson_order);

	CREATE TABLE IF NOT EXISTS quiz_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		lesson_id INTEGER NOT NULL,
		score INTEGER NOT NULL,
		passed BOOLEAN NOT NULL,
		quiz_data TEXT NOT NULL DEFAULT '[]',
		attempted_at DATETIME NOT NULL,
		can_reattempt_at DATETIME,
		FOREIGN KEY (lesson_id) REFERENCES lessons(id)
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_user_lesson ON quiz_attempts(user_id, lesson_id);

	CREATE TABLE IF NOT EXISTS lesson_progress (
		user_id INTEGER NOT NULL,
		lesson_id INTEGER NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, lesson_id),
		FOREIGN KEY (lesson_id) REFERENCES lessons(id)
	);

	CREATE TABLE IF NOT EXISTS pending_quizzes (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		lesson_id INTEGER NOT NULL,
		questions TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lesson_translations (
		lesson_id INTEGER NOT NULL,
		language TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		PRIMARY KEY (lesson_id, language)
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSubject stores a subject.
func (s *Store) CreateSubject(ctx context.Context, subj model.Subject) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subjects (name, class_name) VALUES (?, ?)`,
		subj.Name, subj.ClassName,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSubject returns a subject by ID.
func (s *Store) GetSubject(ctx context.Context, id int64) (*model.Subject, error) {
	var subj model.Subject
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, class_name FROM subjects WHERE id = ?`, id,
	).Scan(&subj.ID, &subj.Name, &subj.ClassName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &subj, nil
}

// ListSubjects returns all subjects.
func (s *Store) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, class_name FROM subjects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subjects []model.Subject
	for rows.Next() {
		var subj model.Subject
		if err := rows.Scan(&subj.ID, &subj.Name, &subj.ClassName); err != nil {
			return nil, err
		}
		subjects = append(subjects, subj)
	}
	return subjects, rows.Err()
}

// InsertLesson stores a lesson.
func (s *Store) InsertLesson(ctx context.Context, l model.Lesson) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons (subject_id, title, content, simplified_content, video_url, audio_url, image_url,
		                      lesson_order, requires_previous_quiz)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.SubjectID, l.Title, l.Content, l.SimplifiedContent, l.VideoURL, l.AudioURL, l.ImageURL,
		l.LessonOrder, l.RequiresPreviousQuiz,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ImportSubject stores a subject and its lessons in one transaction.
func (s *Store) ImportSubject(ctx context.Context, si model.SubjectImport) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO subjects (name, class_name) VALUES (?, ?)`, si.Name, si.ClassName)
	if err != nil {
		return 0, fmt.Errorf("insert subject: %w", err)
	}
	subjectID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, li := range si.Lessons {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO lessons (subject_id, title, content, simplified_content, video_url, audio_url, image_url,
			                      lesson_order, requires_previous_quiz)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			subjectID, li.Title, li.Content, li.SimplifiedContent, li.VideoURL, li.AudioURL, li.ImageURL,
			li.LessonOrder, li.RequiresPreviousQuiz,
		)
		if err != nil {
			return 0, fmt.Errorf("insert lesson %q: %w", li.Title, err)
		}
	}
	return subjectID, tx.Commit()
}

const lessonColumns = `id, subject_id, title, content, simplified_content, video_url, audio_url, image_url,
	lesson_order, requires_previous_quiz`

type scanner interface {
	Scan(dest ...any) error
}

func scanLesson(sc scanner) (model.Lesson, error) {
	var l model.Lesson
	err := sc.Scan(&l.ID, &l.SubjectID, &l.Title, &l.Content, &l.SimplifiedContent,
		&l.VideoURL, &l.AudioURL, &l.ImageURL, &l.LessonOrder, &l.RequiresPreviousQuiz)
	return l, err
}

// GetLesson returns a lesson by ID.
func (s *Store) GetLesson(ctx context.Context, id int64) (*model.Lesson, error) {
	l, err := scanLesson(s.db.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lesson %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListSubjectLessons returns the lessons of a subject in lesson order.
func (s *Store) ListSubjectLessons(ctx context.Context, subjectID int64) ([]model.Lesson, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE subject_id = ? ORDER BY lesson_order, id`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lessons []model.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// LessonCount returns the total number of lessons.
func (s *Store) LessonCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lessons`).Scan(&count)
	return count, err
}

package model

import "time"

// AttemptExport is the top-level JSON structure for quiz attempt export.
type AttemptExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Subject    string          `json:"subject,omitempty"`
	Results    []StudentResult `json:"results"`
}

// StudentResult holds one student's quiz history for export.
type StudentResult struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Completed   int            `json:"lessons_completed"`
	Attempts    []AttemptEntry `json:"attempts"`
}

// AttemptEntry holds one attempt for export.
type AttemptEntry struct {
	LessonID       int64      `json:"lesson_id"`
	LessonTitle    string     `json:"lesson_title"`
	AttemptNumber  int        `json:"attempt_number"`
	Score          int        `json:"score"`
	Passed         bool       `json:"passed"`
	AttemptedAt    time.Time  `json:"attempted_at"`
	CanReattemptAt *time.Time `json:"can_reattempt_at,omitempty"`
}

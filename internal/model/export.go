package model

import "time"

// AttemptExport is the top-level JSON structure for exam result export.
type AttemptExport struct {
	ExportedAt time.Time    `json:"exported_at"`
	Exams      []ExamExport `json:"exams"`
}

// ExamExport holds one exam and every persisted attempt for it.
type ExamExport struct {
	ExamID          int64           `json:"exam_id"`
	Title           string          `json:"title"`
	Teacher         string          `json:"teacher"`
	DurationMinutes int             `json:"duration_minutes"`
	NumQuestions    int             `json:"num_questions"`
	Results         []StudentResult `json:"results"`
}

// StudentResult holds one student's attempt for export.
type StudentResult struct {
	AttemptID     string           `json:"attempt_id"`
	Username      string           `json:"username"`
	DisplayName   string           `json:"display_name"`
	AttemptNumber int              `json:"attempt_number"`
	Score         float64          `json:"score"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`
	Questions     []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	Text     string   `json:"text"`
	Options  []string `json:"options"`
	Correct  int      `json:"correct"`
	Selected *int     `json:"selected,omitempty"`
}

// ExamImport is the JSON shape accepted for importing an exam.
type ExamImport struct {
	Title           string           `json:"title"`
	DurationMinutes int              `json:"duration_minutes"`
	Questions       []QuestionImport `json:"questions"`
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Text               string   `json:"question_text"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correct_answer_index"`
}

package exam

import (
	"strconv"

	"github.com/matiku/lms/internal/model"
)

// CorrectCount returns how many questions have a recorded answer equal to
// their correct option. Unanswered questions never match.
func CorrectCount(questions []model.Question, answers model.Answers) int {
	correct := 0
	for _, q := range questions {
		if sel, ok := answers[q.ID]; ok && sel == q.CorrectAnswerIndex {
			correct++
		}
	}
	return correct
}

// Score returns the percentage of correctly answered questions. An exam
// without questions scores 0.
func Score(questions []model.Question, answers model.Answers) float64 {
	if len(questions) == 0 {
		return 0
	}
	return float64(CorrectCount(questions, answers)) / float64(len(questions)) * 100
}

// FormatScore renders a score with one decimal place.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 1, 64)
}

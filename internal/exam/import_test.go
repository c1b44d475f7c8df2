package exam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImport(t *testing.T) {
	data := []byte(`{
		"title": "  Kuis Pecahan ",
		"duration_minutes": 15,
		"questions": [
			{"question_text": "1/2 + 1/4 = ?", "options": [" 3/4", "2/6 "], "correct_answer_index": 0}
		]
	}`)

	d, err := ParseImport(data)
	require.NoError(t, err)
	assert.Equal(t, "Kuis Pecahan", d.Title)
	assert.Equal(t, 15, d.DurationMinutes)
	require.Len(t, d.Questions, 1)
	assert.Equal(t, []string{"3/4", "2/6"}, d.Questions[0].Options)
}

func TestParseImportErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"title": `},
		{"no questions", `{"title": "x", "duration_minutes": 10, "questions": []}`},
		{"bad correct index", `{"title": "x", "duration_minutes": 10, "questions": [{"question_text": "q", "options": ["a", "b"], "correct_answer_index": 5}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseImport([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidDraft)
		})
	}
}

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("exam"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Checksum([]byte("exam")))
	assert.NotEqual(t, a, Checksum([]byte("exam ")))
}

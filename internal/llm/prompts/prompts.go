package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

// FS holds the built-in prompt templates.
//
//go:embed *.txt
var FS embed.FS

// Kind names a prompt template.
type Kind string

const (
	// Assess scores a teacher's analysis of a student.
	Assess Kind = "assess"
	// Tutor is the system instruction for the student tutor.
	Tutor Kind = "tutor"
	// Chat is the system instruction for the teacher assistant.
	Chat Kind = "chat"
	// Describe drafts a module description from its title.
	Describe Kind = "describe"
)

var kinds = []Kind{Assess, Tutor, Chat, Describe}

// maxInputRunes bounds user text placed into a prompt.
const maxInputRunes = 10000

var tagRegex = regexp.MustCompile(`(?i)</?\s*(teacher-analysis|system-instructions)\b[^>]*>`)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Kind]*template.Template
)

// AssessData holds template data for the assessment prompt.
type AssessData struct {
	Analysis string
}

// TutorData holds template data for the tutor instruction.
type TutorData struct {
	StudentName string
}

// ChatData holds template data for the assistant instruction.
type ChatData struct {
	TeacherName string
}

// DescribeData holds template data for the module description prompt.
type DescribeData struct {
	Title string
}

// Load parses the prompt templates from fsys, once. Each kind is read from
// "<kind>.txt".
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[Kind]*template.Template)
		for _, k := range kinds {
			file := string(k) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("failed to read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(string(k)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("failed to parse prompt template %s: %w", file, err)
				return
			}
			templates[k] = tmpl
		}
	})
	return loadErr
}

// Build renders the template of the given kind with data.
func Build(k Kind, data any) (string, error) {
	if templates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[k]
	if !ok {
		return "", errors.New("unknown prompt: " + string(k))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Sanitize strips prompt delimiter tags from user text and truncates it.
func Sanitize(s string) string {
	s = tagRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return "[No text provided]"
	}
	if utf8.RuneCountInString(s) > maxInputRunes {
		runes := []rune(s)
		s = string(runes[:maxInputRunes]) + "\n\n[Text truncated due to length]"
	}
	return s
}

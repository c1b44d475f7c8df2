// Package views renders the server-side pages as templ components. The exam
// page is written in templ; the other pages are html/template files wrapped
// as components.
package views

//go:generate templ generate

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/matiku/lms/internal/exam"
	appI18n "github.com/matiku/lms/internal/i18n"
	"github.com/matiku/lms/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// base holds the parsed templates. Context-bound funcs are swapped in per
// render on a clone.
var base = template.Must(template.New("").Funcs(funcs(context.Background())).ParseFS(templateFS, "templates/*.html"))

func funcs(ctx context.Context) template.FuncMap {
	return template.FuncMap{
		"t":  func(id string) string { return appI18n.T(ctx, id) },
		"td": func(id string, kv ...any) string { return appI18n.Td(ctx, id, pairs(kv)) },
		"tp": func(id string, n int) string { return appI18n.Tp(ctx, id, n) },
		"path": func(format string, args ...any) string {
			return model.BasePathFromContext(ctx) + fmt.Sprintf(format, args...)
		},
		"csrf":   func() string { return model.CSRFTokenFromContext(ctx) },
		"user":   func() *model.User { return model.UserFromContext(ctx) },
		"score":  exam.FormatScore,
		"letter": func(i int) string { return string(rune('A' + i)) },
		"inc":    func(i int) int { return i + 1 },
		"date": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("2006-01-02 15:04")
		},
		"datep": func(t *time.Time) string {
			if t == nil {
				return "-"
			}
			return t.Format("2006-01-02 15:04")
		},
	}
}

func pairs(kv []any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

func chosen(a model.Answers, qid int64, opt int) bool {
	sel, ok := a[qid]
	return ok && sel == opt
}

func answered(a model.Answers, qid int64) bool {
	_, ok := a[qid]
	return ok
}

func optionLabel(i int, opt string) string {
	return string(rune('A'+i)) + ". " + opt
}

// examPath links to an action of the attempt's exam under the base path.
func examPath(ctx context.Context, v exam.View, suffix string) string {
	return model.BasePathFromContext(ctx) + "/student/exams/" + strconv.FormatInt(v.Exam.ID, 10) + suffix
}

// partial renders one named html/template with the request's funcs bound.
// Pages written in templ use it for the shared layout.
func partial(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t, err := base.Clone()
		if err != nil {
			return err
		}
		t.Funcs(funcs(ctx))
		return t.ExecuteTemplate(w, name, data)
	})
}

// AuthData is rendered by the login, signup and role pages.
type AuthData struct {
	Error string
}

// LoginPage renders the sign-in form with an optional error.
func LoginPage(errMsg string) templ.Component {
	return partial("login", AuthData{Error: errMsg})
}

// SignupPage renders the registration form with an optional error.
func SignupPage(errMsg string) templ.Component {
	return partial("signup", AuthData{Error: errMsg})
}

// RolePage asks a new user to choose the teacher or student workspace.
func RolePage(errMsg string) templ.Component {
	return partial("role", AuthData{Error: errMsg})
}

// ExamCard is one exam on the student dashboard.
type ExamCard struct {
	Exam         model.Exam
	Attempts     int
	BestScore    float64
	LastAttempt  string
	InProgress   bool
	NumQuestions int
}

// AssignmentRow is one assignment on the student dashboard with the
// student's latest submission, if any.
type AssignmentRow struct {
	Assignment model.Assignment
	Submission *model.Submission
}

// StudentDashboardData is rendered by StudentDashboard.
type StudentDashboardData struct {
	Student     *model.Student
	Exams       []ExamCard
	Assignments []AssignmentRow
	Flash       string
}

// StudentDashboard renders the student's exams and assignments.
func StudentDashboard(d StudentDashboardData) templ.Component {
	return partial("student", d)
}

// ResultRow is one question on the result page.
type ResultRow struct {
	Question model.Question
	Selected int
	Answered bool
	Correct  bool
}

// ResultData is rendered by ResultPage.
type ResultData struct {
	Exam    model.Exam
	Attempt model.ExamAttempt
	Rows    []ResultRow
	Correct int
}

// NewResultData pairs each question with the attempt's answer.
func NewResultData(e model.Exam, questions []model.Question, a model.ExamAttempt) ResultData {
	d := ResultData{Exam: e, Attempt: a}
	for _, q := range questions {
		sel, ok := a.Answers[q.ID]
		row := ResultRow{Question: q, Selected: sel, Answered: ok, Correct: ok && sel == q.CorrectAnswerIndex}
		if row.Correct {
			d.Correct++
		}
		d.Rows = append(d.Rows, row)
	}
	return d
}

// ResultPage renders a finished attempt.
func ResultPage(d ResultData) templ.Component {
	return partial("result", d)
}

// TeacherDashboardData is rendered by TeacherDashboard.
type TeacherDashboardData struct {
	Exams         []model.Exam
	Students      []model.Student
	Notifications []model.Notification
	Unread        int
	Analytics     model.Analytics
	Flash         string
}

// TeacherDashboard renders the teacher's overview with exam authoring.
func TeacherDashboard(d TeacherDashboardData) templ.Component {
	return partial("teacher", d)
}

// ExamResultsData is rendered by ExamResultsPage.
type ExamResultsData struct {
	Exam    model.Exam
	Results []model.ExamResultRow
}

// ExamResultsPage renders the results table of one exam.
func ExamResultsPage(e model.Exam, rows []model.ExamResultRow) templ.Component {
	return partial("exam_results", ExamResultsData{Exam: e, Results: rows})
}

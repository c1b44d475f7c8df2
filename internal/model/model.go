package model

import (
	"context"
	"time"
)

// UserRole is the workspace a user belongs to. It is empty until the user
// picks one on first login.
type UserRole string

const (
	// UserRoleNone marks a user who has not chosen a workspace yet.
	UserRoleNone UserRole = ""
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
)

// Valid reports whether r is a role a user can choose.
func (r UserRole) Valid() bool {
	return r == UserRoleTeacher || r == UserRoleStudent
}

// User represents a system user (profile).
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	TeacherID    *int64    `json:"teacher_id,omitempty"`
	AvatarKey    string    `json:"avatar_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Exam is a timed set of multiple-choice questions owned by a teacher.
type Exam struct {
	ID              int64      `json:"id"`
	TeacherID       int64      `json:"teacher_id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	CreatedAt       time.Time  `json:"created_at"`
	Questions       []Question `json:"questions,omitempty"`
}

// Question is a single multiple-choice question of an exam.
type Question struct {
	ID                 int64    `json:"id"`
	ExamID             int64    `json:"exam_id"`
	Text               string   `json:"question_text"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correct_answer_index"`
}

// Answers maps question IDs to the selected option index.
type Answers map[int64]int

// ExamAttempt is the persisted outcome of a completed exam attempt.
type ExamAttempt struct {
	ID          string    `json:"id"`
	ExamID      int64     `json:"exam_id"`
	StudentID   int64     `json:"student_id"`
	StudentUID  int64     `json:"student_uid"`
	Score       float64   `json:"score"`
	Answers     Answers   `json:"answers"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ExamResultRow is one line of a teacher's results table for an exam.
type ExamResultRow struct {
	AttemptID   string    `json:"attempt_id"`
	StudentName string    `json:"student_name"`
	Score       float64   `json:"score"`
	CompletedAt time.Time `json:"completed_at"`
}

// Student is a row in a teacher's class roster.
type Student struct {
	ID        int64     `json:"id"`
	TeacherID int64     `json:"teacher_id"`
	UserID    int64     `json:"uid"`
	Name      string    `json:"name"`
	Grade     string    `json:"grade"`
	Class     string    `json:"class"`
	CreatedAt time.Time `json:"created_at"`
}

// ClassLabel returns the "<grade> - <class>" label assignments target.
func (s Student) ClassLabel() string {
	return s.Grade + " - " + s.Class
}

// AllClasses is the assignment target that includes every class.
const AllClasses = "all"

// Module is a piece of teaching material.
type Module struct {
	ID          int64      `json:"id"`
	TeacherID   int64      `json:"teacher_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	FileKey     string     `json:"file_key,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Assignment is homework given to a class.
type Assignment struct {
	ID              int64      `json:"id"`
	TeacherID       int64      `json:"teacher_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	AssignedToClass string     `json:"assigned_to_class"`
	FileKey         string     `json:"file_key,omitempty"`
	FileName        string     `json:"file_name,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SubmissionStatus records whether work was handed in on time.
type SubmissionStatus string

const (
	SubmissionOnTime SubmissionStatus = "submitted"
	SubmissionLate   SubmissionStatus = "late"
)

// SubmissionStatusAt returns the status of a submission made at t for an
// assignment with the given due date.
func SubmissionStatusAt(due *time.Time, t time.Time) SubmissionStatus {
	if due != nil && t.After(*due) {
		return SubmissionLate
	}
	return SubmissionOnTime
}

// Submission is a student's file for an assignment.
type Submission struct {
	ID           int64            `json:"id"`
	AssignmentID int64            `json:"assignment_id"`
	StudentID    int64            `json:"student_id"`
	UserID       int64            `json:"student_uid"`
	FileKey      string           `json:"file_key"`
	FileName     string           `json:"file_name"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	Grade        *float64         `json:"grade,omitempty"`
	Feedback     *string          `json:"feedback,omitempty"`
	Status       SubmissionStatus `json:"status"`
}

// Assessment is a teacher's qualitative analysis of a student on one module,
// scored by the AI collaborator.
type Assessment struct {
	ID             int64     `json:"id"`
	StudentID      int64     `json:"student_id"`
	ModuleID       int64     `json:"module_id"`
	ModuleTitle    string    `json:"module_title"`
	Analysis       string    `json:"analysis"`
	Score          int       `json:"score"`
	Recommendation string    `json:"recommendation"`
	Date           time.Time `json:"date"`
}

// Notification is a message shown in the teacher's notification dropdown.
type Notification struct {
	ID        int64     `json:"id"`
	TeacherID int64     `json:"teacher_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	ChatRoleUser ChatRole = "user"
	ChatRoleAI   ChatRole = "ai"
)

// ChatMessage is one turn of a tutor or assistant conversation.
type ChatMessage struct {
	Role ChatRole `json:"sender"`
	Text string   `json:"text"`
}

// Analytics summarises a teacher's class.
type Analytics struct {
	StudentCount      int                `json:"student_count"`
	ModuleCount       int                `json:"module_count"`
	ExamCount         int                `json:"exam_count"`
	AttemptCount      int                `json:"attempt_count"`
	AverageExamScore  float64            `json:"average_exam_score"`
	AverageAssessment float64            `json:"average_assessment"`
	ScoreByModule     map[string]float64 `json:"score_by_module"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/lms")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	MaxUploadMB   int64  // Upload size limit for files and exam imports
	Lang          string // Language for server-generated notifications
}

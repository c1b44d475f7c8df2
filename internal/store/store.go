package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrExamLocked is returned when editing the questions of an exam that
// students have already attempted.
var ErrExamLocked = errors.New("exam has attempts and can no longer be edited")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serialises writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		teacher_id INTEGER,
		avatar_key TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL UNIQUE,
		name TEXT NOT NULL,
		grade TEXT NOT NULL,
		class TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (teacher_id) REFERENCES users(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS modules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		file_key TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		due_date DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		due_date DATETIME,
		assigned_to_class TEXT NOT NULL DEFAULT 'all',
		file_key TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assignment_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		file_key TEXT NOT NULL,
		file_name TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		grade REAL,
		feedback TEXT,
		status TEXT NOT NULL,
		FOREIGN KEY (assignment_id) REFERENCES assignments(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		options TEXT NOT NULL,
		correct_answer_index INTEGER NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS exam_attempts (
		id TEXT PRIMARY KEY,
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		student_uid INTEGER NOT NULL,
		score REAL NOT NULL,
		answers TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		module_id INTEGER NOT NULL,
		module_title TEXT NOT NULL,
		analysis TEXT NOT NULL,
		score INTEGER NOT NULL,
		recommendation TEXT NOT NULL,
		date DATETIME NOT NULL,
		UNIQUE (student_id, module_id),
		FOREIGN KEY (student_id) REFERENCES students(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		message TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		owner_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		PRIMARY KEY (owner_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_exam ON exam_attempts(exam_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_student ON exam_attempts(student_uid);
	CREATE INDEX IF NOT EXISTS idx_submissions_assignment ON submissions(assignment_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

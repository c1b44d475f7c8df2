package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/matiku/lms/internal/model"
)

const userColumns = `id, username, COALESCE(email, ''), display_name, password_hash, role, teacher_id, avatar_key, created_at`

func scanUser(sc interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var teacherID sql.NullInt64
	err := sc.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &teacherID, &u.AvatarKey, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if teacherID.Valid {
		u.TeacherID = &teacherID.Int64
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateUser inserts a new user.
func (s *Store) CreateUser(u model.User) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO users (username, email, display_name, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, nullString(u.Email), u.DisplayName, u.PasswordHash, u.Role, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByUsername returns a user by username, or nil if there is none.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// GetUserByEmail returns a user by email, or nil if there is none.
func (s *Store) GetUserByEmail(email string) (*model.User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// GetUserByID returns a user by ID, or nil if there is none.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// ListUsers returns all users.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserRole records the workspace a user picked. A role can only be set
// once; ErrNotFound is returned if the user is missing or already has one.
func (s *Store) SetUserRole(id int64, role model.UserRole) error {
	res, err := s.db.Exec(`UPDATE users SET role = ? WHERE id = ? AND role = ''`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	slog.Info("user role set", "id", id, "role", role)
	return nil
}

// UpdateProfile changes a user's display name and avatar.
func (s *Store) UpdateProfile(id int64, displayName, avatarKey string) error {
	res, err := s.db.Exec(
		`UPDATE users SET display_name = ?, avatar_key = ? WHERE id = ?`,
		displayName, avatarKey, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

package store

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/matiku/lms/internal/model"
)

// AuthSessionTTL is how long a login stays valid.
const AuthSessionTTL = 24 * time.Hour

// CreateAuthSession opens a login session for a user and returns its
// cookie token.
func (s *Store) CreateAuthSession(userID int64) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(AuthSessionTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// expiryScanner reads the session expiry in front of the user columns.
type expiryScanner struct {
	row     interface{ Scan(...any) error }
	expires *time.Time
}

func (e expiryScanner) Scan(dest ...any) error {
	return e.row.Scan(append([]any{e.expires}, dest...)...)
}

// SessionUser resolves a cookie token to the signed-in user. Unknown and
// expired tokens yield nil; an expired token is deleted on sight.
func (s *Store) SessionUser(token string) (*model.User, error) {
	var expires time.Time
	u, err := scanUser(expiryScanner{
		row: s.db.QueryRow(
			`SELECT a.expires_at, u.id, u.username, COALESCE(u.email, ''), u.display_name, u.password_hash,
			        u.role, u.teacher_id, u.avatar_key, u.created_at
			 FROM auth_sessions a JOIN users u ON u.id = a.user_id
			 WHERE a.id = ?`, token,
		),
		expires: &expires,
	})
	if err != nil || u == nil {
		return nil, err
	}
	if time.Now().After(expires) {
		_ = s.DeleteAuthSession(token)
		return nil, nil
	}
	return u, nil
}

// DeleteAuthSession ends a login session.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions deletes lapsed logins and reports how many were
// removed.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

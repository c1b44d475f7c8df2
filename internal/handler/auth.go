package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/matiku/lms/internal/handler/views"
	appI18n "github.com/matiku/lms/internal/i18n"
	"github.com/matiku/lms/internal/model"
	"github.com/matiku/lms/internal/store"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	minPasswordLen    = 8
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *Handler) setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// csrfMiddleware implements double-submit cookies. Safe requests reuse the
// current token so that polling does not invalidate open forms; unsafe
// requests must echo the cookie in the csrf_token form field and get a
// fresh token afterwards.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, cookieErr := r.Cookie(csrfCookieName)

		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			token := ""
			if cookieErr == nil {
				token = cookie.Value
			}
			if token == "" {
				var err error
				if token, err = generateCSRFToken(); err != nil {
					slog.Error("failed to generate CSRF token", "error", err)
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				h.setCSRFCookie(w, token)
			}
			ctx := model.ContextWithCSRFToken(r.Context(), token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if cookieErr != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing", "path", r.URL.Path)
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())
		formToken := r.FormValue("csrf_token")
		if formToken == "" {
			slog.Warn("CSRF form token missing", "path", r.URL.Path)
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		if len(formToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(formToken), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch", "path", r.URL.Path)
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}

		token, err := generateCSRFToken()
		if err != nil {
			slog.Error("failed to generate CSRF token", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.setCSRFCookie(w, token)

		ctx := model.ContextWithCSRFToken(r.Context(), token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionUser resolves the session cookie to a user, or nil.
func (h *Handler) sessionUser(r *http.Request) *model.User {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	user, err := h.store.SessionUser(cookie.Value)
	if err != nil {
		slog.Error("failed to get auth session", "error", err)
		return nil
	}
	return user
}

// requireAuth is middleware that checks for a valid session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := h.sessionUser(r)
		if user == nil {
			h.redirectToLogin(w, r)
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, userID int64) {
	token, err := h.store.CreateAuthSession(userID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, views.LoginPage(""))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	user, err := h.store.GetUserByUsername(username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		h.renderLoginError(w, r)
		return
	}
	if user == nil {
		h.renderLoginError(w, r)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		h.renderLoginError(w, r)
		return
	}
	slog.Info("user logged in", "id", user.ID, "username", user.Username)
	h.startSession(w, r, user.ID)
}

func (h *Handler) renderLoginError(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusUnauthorized, views.LoginPage(appI18n.T(r.Context(), "LoginError")))
}

type signupForm struct {
	Username    string `validate:"required,alphanum,min=3,max=32"`
	Email       string `validate:"required,email"`
	DisplayName string `validate:"max=100"`
	Password    string `validate:"required"`
}

func (h *Handler) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, views.SignupPage(""))
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	f := signupForm{
		Username:    strings.TrimSpace(r.FormValue("username")),
		Email:       strings.ToLower(strings.TrimSpace(r.FormValue("email"))),
		DisplayName: strings.TrimSpace(r.FormValue("display_name")),
		Password:    r.FormValue("password"),
	}
	fail := func(msgID string) {
		render(w, r, http.StatusBadRequest, views.SignupPage(appI18n.T(r.Context(), msgID)))
	}
	if err := h.validate.Struct(f); err != nil {
		fail("SignupInvalid")
		return
	}
	if len(f.Password) < minPasswordLen {
		fail("PasswordTooShort")
		return
	}
	if u, err := h.store.GetUserByUsername(f.Username); err != nil || u != nil {
		fail("UsernameTaken")
		return
	}
	if u, err := h.store.GetUserByEmail(f.Email); err != nil || u != nil {
		fail("EmailTaken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(f.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if f.DisplayName == "" {
		f.DisplayName = f.Username
	}
	id, err := h.store.CreateUser(model.User{
		Username:     f.Username,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		PasswordHash: string(hash),
	})
	if err != nil {
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	h.startSession(w, r, id)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.store.DeleteAuthSession(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}

func (h *Handler) handleRolePage(w http.ResponseWriter, r *http.Request) {
	if model.UserFromContext(r.Context()).Role != model.UserRoleNone {
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		return
	}
	render(w, r, http.StatusOK, views.RolePage(""))
}

func (h *Handler) handleChooseRole(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	role := model.UserRole(r.FormValue("role"))
	if !role.Valid() {
		render(w, r, http.StatusBadRequest, views.RolePage(appI18n.T(r.Context(), "InvalidRole")))
		return
	}
	err := h.store.SetUserRole(user.ID, role)
	if errors.Is(err, store.ErrNotFound) {
		// Already chosen; the role cannot change.
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		return
	}
	if err != nil {
		slog.Error("failed to set role", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

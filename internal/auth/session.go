package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/ubtreetrack/treetrack/internal/backend/database"
)

const (
	sessionName     = "treetrack_session"
	adminIDKey      = "admin_id"
	contextAdminKey = "admin"
	LoginPath       = "/login"
)

var ErrNoSession = errors.New("no administrator session")

var DefaultProtectedPrefixes = []string{"/admin", "/update", "/reports"}

type SessionConfig struct {
	Secret string
	MaxAge time.Duration
	Secure bool
}

type SessionManager struct {
	store  sessions.Store
	admins AdminStore
}

func NewSessionManager(config SessionConfig, admins AdminStore) *SessionManager {
	store := sessions.NewCookieStore(sessionKey(config.Secret))
	maxAge := config.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionManager{store: store, admins: admins}
}

func (m *SessionManager) Login(c echo.Context, admin *database.Administrator) error {
	session, err := m.store.Get(c.Request(), sessionName)
	if err != nil && session == nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	session.Values[adminIDKey] = admin.ID
	if err := session.Save(c.Request(), c.Response()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	c.Set(contextAdminKey, admin)
	return nil
}

func (m *SessionManager) Logout(c echo.Context) error {
	session, err := m.store.Get(c.Request(), sessionName)
	if err != nil && session == nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	delete(session.Values, adminIDKey)
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response()); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.Set(contextAdminKey, nil)
	return nil
}

// CurrentAdmin returns the signed-in administrator, or nil for anonymous requests.
func (m *SessionManager) CurrentAdmin(c echo.Context) (*database.Administrator, error) {
	if admin, ok := c.Get(contextAdminKey).(*database.Administrator); ok && admin != nil {
		return admin, nil
	}

	session, err := m.store.Get(c.Request(), sessionName)
	if err != nil {
		// tampered or stale cookie
		slog.Debug("CurrentAdmin: ignoring unreadable session", "error", err)
		return nil, nil
	}
	adminID, ok := session.Values[adminIDKey].(string)
	if !ok || adminID == "" {
		return nil, nil
	}

	admin, err := m.admins.GetAdministratorByID(c.Request().Context(), adminID)
	if err != nil {
		return nil, err
	}
	if admin != nil {
		c.Set(contextAdminKey, admin)
	}
	return admin, nil
}

// RequireAdmin is CurrentAdmin for handlers that must not run anonymously.
func (m *SessionManager) RequireAdmin(c echo.Context) (*database.Administrator, error) {
	admin, err := m.CurrentAdmin(c)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrNoSession
	}
	return admin, nil
}

// IsProtected reports whether path equals a prefix or lies below it.
func IsProtected(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// ProtectRoutes redirects anonymous requests for protected paths to the login page.
func (m *SessionManager) ProtectRoutes(prefixes []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !IsProtected(path, prefixes) {
				return next(c)
			}
			admin, err := m.CurrentAdmin(c)
			if err != nil {
				slog.Error("ProtectRoutes: failed to load administrator", "path", path, "error", err)
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to load session")
			}
			if admin == nil {
				return c.Redirect(http.StatusSeeOther, LoginPath+"?next="+url.QueryEscape(c.Request().URL.RequestURI()))
			}
			return next(c)
		}
	}
}

// SafeNext keeps post-login redirects on this site.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

package common

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	VisitorCookieName = "visitor"
	visitorContextKey = "visitor_id"
	visitorCookieAge  = 365 * 24 * time.Hour
)

// EnsureVisitor gives every browser a random visitor id cookie that keys its rating cooldowns.
func EnsureVisitor(secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cookie, err := c.Cookie(VisitorCookieName); err == nil {
				if _, err := uuid.Parse(cookie.Value); err == nil {
					c.Set(visitorContextKey, cookie.Value)
					return next(c)
				}
			}

			id := uuid.NewString()
			c.SetCookie(&http.Cookie{
				Name:     VisitorCookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(visitorCookieAge.Seconds()),
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})
			c.Set(visitorContextKey, id)
			return next(c)
		}
	}
}

// VisitorID returns the id set by EnsureVisitor, falling back to the request cookie.
func VisitorID(c echo.Context) string {
	if id, ok := c.Get(visitorContextKey).(string); ok {
		return id
	}
	if cookie, err := c.Cookie(VisitorCookieName); err == nil {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			return cookie.Value
		}
	}
	return ""
}

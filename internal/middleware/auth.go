package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"github.com/veritest/veritest/internal/domain"
)

const UserContextKey = "user"

// Authenticator resolves an issued credential back to its user.
type Authenticator interface {
	Resolve(token string) (domain.User, bool)
}

// Auth creates a middleware that protects routes requiring an authenticated
// user. The credential arrives either as a bearer token (API and realtime
// clients) or in the cookie session (browser clients).
func Auth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token := bearerToken(c.Request()); token != "" {
				user, ok := auth.Resolve(token)
				if !ok {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
				}
				c.Set(UserContextKey, user)
				return next(c)
			}

			if user, ok := sessionUser(c); ok {
				c.Set(UserContextKey, user)
				return next(c)
			}

			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func sessionUser(c echo.Context) (domain.User, bool) {
	sess, err := session.Get("veritest-session", c)
	if err != nil {
		return domain.User{}, false
	}
	id, _ := sess.Values["user_id"].(string)
	if id == "" {
		return domain.User{}, false
	}
	name, _ := sess.Values["user_name"].(string)
	elevated, _ := sess.Values["user_elevated"].(bool)
	return domain.User{ID: id, Name: name, Elevated: elevated}, true
}

package handlers

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"github.com/veritest/veritest/internal/domain"
)

// CredentialStore issues and resolves the bearer credentials both the REST
// API and the realtime channel authenticate with. Tokens live for the
// process lifetime; the assessment platform's identity provider sits in
// front of this service and is not modeled here.
type CredentialStore struct {
	mu     sync.RWMutex
	tokens map[string]domain.User
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{tokens: make(map[string]domain.User)}
}

// Issue mints a fresh token for the user.
func (s *CredentialStore) Issue(user domain.User) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = user
	s.mu.Unlock()
	return token
}

// Resolve implements middleware.Authenticator.
func (s *CredentialStore) Resolve(token string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.tokens[token]
	return user, ok
}

// Revoke invalidates a token.
func (s *CredentialStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// AuthHandler issues chat credentials. The platform authenticates users
// upstream; this endpoint exchanges the platform identity for the bearer
// token the chat clients hold.
type AuthHandler struct {
	credentials *CredentialStore
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(credentials *CredentialStore) *AuthHandler {
	return &AuthHandler{credentials: credentials}
}

// Login handles POST /login: validates the identity payload, issues a
// bearer token, and mirrors the identity into the cookie session for
// browser clients.
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: "invalid login payload"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: "validation_failed", Message: err.Error()})
	}

	user := domain.User{ID: req.UserID, Name: req.Name, Email: req.Email, Elevated: req.Elevated}
	token := h.credentials.Issue(user)

	if sess, err := session.Get("veritest-session", c); err == nil {
		sess.Values["user_id"] = user.ID
		sess.Values["user_name"] = user.Name
		sess.Values["user_elevated"] = user.Elevated
		if err := sess.Save(c.Request(), c.Response()); err != nil {
			c.Logger().Warn("failed to save session: ", err)
		}
	}

	return c.JSON(http.StatusOK, LoginResponse{Token: token})
}

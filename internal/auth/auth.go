// Package auth guards the admin routes (manual sync, backfill trigger) with
// a simple credential login and short-lived bearer tokens.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Manager issues and validates admin tokens.
type Manager struct {
	username    string
	password    string
	mu          sync.Mutex
	tokens      map[string]time.Time
	tokenExpiry time.Duration
}

// NewManager creates an authentication manager for the given admin
// credentials.
func NewManager(username, password string) *Manager {
	return &Manager{
		username:    username,
		password:    password,
		tokens:      make(map[string]time.Time),
		tokenExpiry: 24 * time.Hour,
	}
}

// Authenticate validates credentials and returns a bearer token.
func (m *Manager) Authenticate(username, password string) (string, error) {
	if m.username == "" || m.password == "" {
		return "", fmt.Errorf("admin credentials are not configured")
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) == 1
	if !userOK || !passOK {
		return "", fmt.Errorf("invalid credentials")
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	m.mu.Lock()
	m.tokens[token] = time.Now().Add(m.tokenExpiry)
	m.cleanupLocked()
	m.mu.Unlock()

	return token, nil
}

// ValidateToken reports whether a token is known and unexpired.
func (m *Manager) ValidateToken(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, exists := m.tokens[token]
	if !exists {
		return false
	}
	if time.Now().After(expiry) {
		delete(m.tokens, token)
		return false
	}
	return true
}

func (m *Manager) cleanupLocked() {
	now := time.Now()
	for token, expiry := range m.tokens {
		if now.After(expiry) {
			delete(m.tokens, token)
		}
	}
}

// Middleware rejects requests without a valid admin token. The token comes
// from the Authorization header (Bearer) or a token query parameter.
func Middleware(manager *Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if token == "" {
				token = c.QueryParam("token")
			}

			if token == "" || !manager.ValidateToken(token) {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Unauthorized. Please login first.",
				})
			}

			c.Set("auth_token", token)
			return next(c)
		}
	}
}

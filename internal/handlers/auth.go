package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"popdesk/internal/auth"
)

// LoginRequest carries admin credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler exchanges admin credentials for a bearer token.
func LoginHandler(manager *auth.Manager) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req LoginRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		}

		token, err := manager.Authenticate(req.Username, req.Password)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}

		return c.JSON(http.StatusOK, map[string]string{"token": token})
	}
}

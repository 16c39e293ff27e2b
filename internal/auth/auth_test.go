package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	manager := NewManager("admin", "s3cret")

	token, err := manager.Authenticate("admin", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, manager.ValidateToken(token))

	_, err = manager.Authenticate("admin", "wrong")
	assert.Error(t, err)

	assert.False(t, manager.ValidateToken("made-up-token"))
}

func TestAuthenticate_Unconfigured(t *testing.T) {
	manager := NewManager("", "")

	_, err := manager.Authenticate("", "")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	manager := NewManager("admin", "s3cret")
	token, err := manager.Authenticate("admin", "s3cret")
	require.NoError(t, err)

	e := echo.New()
	handler := Middleware(manager)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{name: "bearer header", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "query param", query: "?token=" + token, wantStatus: http.StatusOK},
		{name: "missing token", wantStatus: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/sync"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			require.NoError(t, handler(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

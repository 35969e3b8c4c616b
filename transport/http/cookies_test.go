package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/tokenward/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieOptions_InsecureStaysHttpOnly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	opts := CookieOptions{Secure: false, SameSite: ParseSameSite("none")}
	opts.setTokens(c, core.TokenPair{
		AccessToken:      "a",
		RefreshToken:     "r",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshExpiresAt: now.Add(time.Hour),
	}, now)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, cookie := range cookies {
		assert.False(t, cookie.Secure, cookie.Name)
		assert.True(t, cookie.HttpOnly, cookie.Name)
	}
	assert.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)
	assert.Equal(t, 900, cookies[0].MaxAge)
	assert.Equal(t, http.SameSiteStrictMode, cookies[1].SameSite)
}

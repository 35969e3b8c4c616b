package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/tokenward/core"
)

// Cookie names shared by the handlers and the middleware
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// The refresh cookie is only sent to the endpoints that redeem or end it
const refreshCookiePath = "/auth"

// Token cookies are never readable from scripts, whatever Secure says
const httpOnly = true

// CookieOptions controls the attributes of the token cookies browsers get
type CookieOptions struct {
	Secure   bool
	Domain   string
	SameSite http.SameSite
}

// ParseSameSite maps a config value to http.SameSite, defaulting to Lax
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// wantsCookies reports whether the caller is a browser. Native apps keep
// their tokens themselves.
func wantsCookies(client core.ClientMetadata) bool {
	return client.Platform != core.PlatformIOS && client.Platform != core.PlatformAndroid
}

func (o CookieOptions) setTokens(c *gin.Context, pair core.TokenPair, now time.Time) {
	c.SetSameSite(o.SameSite)
	c.SetCookie(AccessCookie, pair.AccessToken, maxAge(pair.AccessExpiresAt, now), "/", o.Domain, o.Secure, httpOnly)

	// Refresh cookies never leave the auth endpoints
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookie, pair.RefreshToken, maxAge(pair.RefreshExpiresAt, now), refreshCookiePath, o.Domain, o.Secure, httpOnly)
}

func (o CookieOptions) clearTokens(c *gin.Context) {
	c.SetSameSite(o.SameSite)
	c.SetCookie(AccessCookie, "", -1, "/", o.Domain, o.Secure, httpOnly)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookie, "", -1, refreshCookiePath, o.Domain, o.Secure, httpOnly)
}

func maxAge(expiresAt, now time.Time) int {
	secs := int(expiresAt.Sub(now) / time.Second)
	if secs < 1 {
		return -1
	}
	return secs
}

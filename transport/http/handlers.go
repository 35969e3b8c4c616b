package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/internal/logging"
	"github.com/layer-3/tokenward/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	cookies     CookieOptions
	log         logging.Logger
	now         func() time.Time
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, cookies CookieOptions, log logging.Logger) *AuthHandlers {
	if log == nil {
		log = logging.Nop()
	}
	return &AuthHandlers{
		authService: authService,
		cookies:     cookies,
		log:         log.With("component", "http"),
		now:         time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type sessionResponse struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	LastRotatedAt time.Time `json:"last_rotated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	RememberMe    bool      `json:"remember_me"`
	Platform      string    `json:"platform,omitempty"`
	DeviceID      string    `json:"device_id,omitempty"`
	DeviceName    string    `json:"device_name,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
}

func (h *AuthHandlers) respondWithPair(c *gin.Context, pair core.TokenPair, client core.ClientMetadata) {
	if wantsCookies(client) {
		h.cookies.setTokens(c, pair, h.now())
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.authService.AccessTTL() / time.Second),
	})
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Password   string `json:"password" binding:"required"`
		RememberMe bool   `json:"remember_me"`
		DeviceID   string `json:"device_id"`
		DeviceName string `json:"device_name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	client := core.NewClientMetadata(c.Request.UserAgent(), c.ClientIP(), req.DeviceID, req.DeviceName)
	pair, err := h.authService.Authenticate(c.Request.Context(), req.Identifier, req.Password, req.RememberMe, client)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respondWithPair(c, pair, client)
}

// Refresh handles token refresh. The refresh token comes from the body or
// the refresh cookie.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken, _ = c.Cookie(RefreshCookie)
	}
	if req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh token required"})
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}

	client := core.NewClientMetadata(c.Request.UserAgent(), c.ClientIP(), "", "")
	h.respondWithPair(c, pair, client)
}

// Logout ends the session behind the refresh token and blacklists the
// access token. Either one is enough.
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken, _ = c.Cookie(RefreshCookie)
	}
	access := accessToken(c)

	if access == "" && req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no token presented"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), access, req.RefreshToken); err != nil {
		h.fail(c, err)
		return
	}

	h.cookies.clearTokens(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated identity
func (h *AuthHandlers) Me(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":    identity.Subject,
		"expires_at": identity.ExpiresAt,
	})
}

// ListSessions returns the caller's live sessions
func (h *AuthHandlers) ListSessions(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	sessions, err := h.authService.ListSessions(c.Request.Context(), identity.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:            s.ID,
			CreatedAt:     s.CreatedAt,
			LastRotatedAt: s.LastRotatedAt,
			ExpiresAt:     s.ExpiresAt,
			RememberMe:    s.RememberMe,
			Platform:      string(s.Client.Platform),
			DeviceID:      s.Client.DeviceID,
			DeviceName:    s.Client.DeviceName,
			IPAddress:     s.Client.IPAddress,
			UserAgent:     s.Client.UserAgent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// RevokeSession ends one of the caller's sessions
func (h *AuthHandlers) RevokeSession(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	if err := h.authService.RevokeSession(c.Request.Context(), identity.Subject, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session revoked"})
}

// RevokeOtherSessions ends every session of the caller except the given one
func (h *AuthHandlers) RevokeOtherSessions(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	n, err := h.authService.RevokeOtherSessions(c.Request.Context(), identity.Subject, req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

// LogoutAll ends every session of the caller and blacklists the access token
// used for this request
func (h *AuthHandlers) LogoutAll(c *gin.Context) {
	token := c.GetString(accessTokenKey)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	n, err := h.authService.LogoutAll(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.cookies.clearTokens(c)
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

// fail maps engine errors to responses. Token failures all look the same to
// the client.
func (h *AuthHandlers) fail(c *gin.Context, err error) {
	ctx := c.Request.Context()

	switch {
	case errors.Is(err, core.ErrAccountInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "account inactive"})
	case errors.Is(err, core.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrTokenReplayed),
		errors.Is(err, core.ErrSessionRevoked),
		errors.Is(err, core.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, core.ErrUnavailable):
		h.log.Warn(ctx, "auth backend unavailable", "path", c.FullPath(), "error", err)
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
	default:
		h.log.Error(ctx, "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

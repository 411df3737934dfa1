package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/app/policies"
	"campusmarket/internal/app/services/auth"
	domainauth "campusmarket/internal/domain/auth"
	domainuser "campusmarket/internal/domain/user"
	"campusmarket/internal/infra/obs"
)

const (
	principalContextKey = "campusmarket.principal"
	// browsers cannot set headers on a websocket upgrade
	accessTokenParam = "access_token"
)

// principal is the signed-in student behind a request.
type principal struct {
	ID    string
	Token string
	User  *domainuser.User
}

func (p principal) policy() policies.Principal {
	return policies.Principal{UserID: p.ID, Roles: append([]domainuser.Role(nil), p.User.Roles...)}
}

type AuthMiddleware struct {
	Service *auth.Service
	Logger  *slog.Logger
}

// Handle resolves the bearer token once per request. Anonymous requests pass through;
// handlers that need a user call requireRole.
func (m AuthMiddleware) Handle(c *gin.Context) {
	token := requestToken(c)
	if token == "" || m.Service == nil {
		c.Next()
		return
	}
	resolved, err := m.Service.ResolveToken(c.Request.Context(), token)
	switch {
	case err == nil:
		setPrincipal(c, principal{ID: string(resolved.User.ID), Token: token, User: resolved.User})
	case errors.Is(err, domainauth.ErrSessionNotFound):
	default:
		if m.Logger != nil {
			m.Logger.Warn("session lookup failed", "error", err)
		}
	}
	c.Next()
}

func requestToken(c *gin.Context) string {
	if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if c.IsWebsocket() {
		return strings.TrimSpace(c.Query(accessTokenParam))
	}
	return ""
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
	c.Set(obs.UserIDKey, p.ID)
	c.Request = c.Request.WithContext(policies.WithPrincipal(c.Request.Context(), p.policy()))
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	p, ok := c.Get(principalContextKey)
	if !ok {
		return principal{}, false
	}
	out, ok := p.(principal)
	return out, ok && out.User != nil
}

// requireRole writes 401 or 403 and reports false when the caller may not proceed.
// An empty role admits any signed-in user.
func requireRole(c *gin.Context, role domainuser.Role) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	if role != "" && !p.User.HasRole(role) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

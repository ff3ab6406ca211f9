package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartage/internal/errors"
	"github.com/ikkim/cartage/internal/security"
	"github.com/ikkim/cartage/pkg/cartage"
)

// Context keys for user information
const (
	UserIDKey    = "user_id"
	UserRolesKey = "user_roles"
	TokenIDKey   = "token_id"
	PrincipalKey = "principal"
)

// RevocationChecker reports whether the token with the given ID was revoked.
type RevocationChecker func(ctx context.Context, tokenID string) (bool, error)

type AuthMiddleware struct {
	jwtSecret string
	policy    security.Policy
	revoked   RevocationChecker
	owners    cartage.StoreProvider
}

func NewAuthMiddleware(jwtSecret string, policy security.Policy) *AuthMiddleware {
	if policy == nil {
		policy = security.DefaultPolicy()
	}
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
		policy:    policy,
	}
}

// WithRevocationCheck rejects tokens check reports as revoked.
func (m *AuthMiddleware) WithRevocationCheck(check RevocationChecker) *AuthMiddleware {
	m.revoked = check
	return m
}

// WithOwnership limits customers to the carts they created in provider.
func (m *AuthMiddleware) WithOwnership(provider cartage.StoreProvider) *AuthMiddleware {
	m.owners = provider
	return m
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Authenticate validates the bearer token (required) and attaches the
// principal for SecurityManager.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := GetLoggerFromContext(c)

		if c.GetHeader("Authorization") == "" {
			log.Warn("Missing authorization header", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
			errors.Unauthorized(c, "authorization header is required")
			c.Abort()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			log.Warn("Invalid authorization header format", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
			errors.RespondWithError(c, http.StatusUnauthorized, errors.AuthTokenInvalid, "authorization header must be 'Bearer <token>'")
			c.Abort()
			return
		}

		claims, err := security.ParseToken(token, m.jwtSecret)
		if err != nil {
			log.Warn("Token validation failed", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			if err == security.ErrExpiredToken {
				errors.RespondWithError(c, http.StatusUnauthorized, errors.AuthTokenExpired, "token has expired")
			} else {
				errors.RespondWithError(c, http.StatusUnauthorized, errors.AuthTokenInvalid, "invalid token")
			}
			c.Abort()
			return
		}

		if m.revoked != nil {
			revoked, err := m.revoked(c.Request.Context(), claims.ID)
			if err != nil {
				log.Error("Failed to check token revocation", err, map[string]interface{}{
					"user_id": claims.UserID,
				})
				errors.InternalError(c, "")
				c.Abort()
				return
			}
			if revoked {
				log.Warn("Revoked token used", map[string]interface{}{
					"user_id":  claims.UserID,
					"token_id": claims.ID,
				})
				errors.RespondWithError(c, http.StatusUnauthorized, errors.AuthTokenRevoked, "token has been revoked")
				c.Abort()
				return
			}
		}

		m.attach(c, claims)
		log.Debug("User authenticated successfully", map[string]interface{}{
			"user_id": claims.UserID,
			"roles":   claims.Roles,
		})

		c.Next()
	}
}

// OptionalAuthenticate attaches a principal when a valid token is present and
// otherwise continues with the anonymous principal.
func (m *AuthMiddleware) OptionalAuthenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := GetLoggerFromContext(c)

		token, ok := bearerToken(c)
		if !ok {
			log.Debug("No usable authorization header - continuing as guest", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
			c.Next()
			return
		}

		claims, err := security.ParseToken(token, m.jwtSecret)
		if err != nil {
			log.Debug("Token validation failed - continuing as guest", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			c.Next()
			return
		}

		m.attach(c, claims)
		c.Next()
	}
}

func (m *AuthMiddleware) attach(c *gin.Context, claims *security.Claims) {
	c.Set(UserIDKey, claims.UserID)
	c.Set(UserRolesKey, claims.Roles)
	c.Set(TokenIDKey, claims.ID)
	principal := security.FromClaims(claims, m.policy)
	if m.owners != nil {
		principal = principal.WithOwnership(security.NewStoreOwners(c.Request.Context(), m.owners))
	}
	c.Set(PrincipalKey, principal)
}

// RequireRole lets the request through when the user holds one of roles
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := GetLoggerFromContext(c)

		userRoles, exists := GetUserRoles(c)
		if !exists {
			log.Warn("Role information not found in context", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
			errors.RespondWithError(c, http.StatusForbidden, errors.AuthzRoleNotFound, "role information not found")
			c.Abort()
			return
		}

		for _, have := range userRoles {
			for _, want := range roles {
				if have == want {
					c.Next()
					return
				}
			}
		}

		userID, _ := GetUserID(c)
		log.Warn("Insufficient permissions", map[string]interface{}{
			"user_id":        userID,
			"user_roles":     userRoles,
			"required_roles": roles,
			"path":           c.Request.URL.Path,
		})
		errors.Forbidden(c, "")
		c.Abort()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}

// GetUserRoles extracts user roles from context
func GetUserRoles(c *gin.Context) ([]string, bool) {
	roles, exists := c.Get(UserRolesKey)
	if !exists {
		return nil, false
	}
	r, ok := roles.([]string)
	return r, ok
}

// SecurityManager returns the cartage security collaborator for the request:
// the authenticated principal, or the anonymous one.
func SecurityManager(c *gin.Context) cartage.SecurityManager {
	if p, exists := c.Get(PrincipalKey); exists {
		if principal, ok := p.(*security.Principal); ok {
			return security.NewManager(principal)
		}
	}
	return security.NewManager(security.Anonymous())
}

package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medilink-api/internal/model"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/httputil"
)

const ContextUser = "auth_user"

// Authenticator resolves a bearer token to a user identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (model.AuthenticatedUser, error)
}

type AuthMiddleware struct {
	authenticator Authenticator
}

func NewAuthMiddleware(authenticator Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator}
}

// Authenticate verifies the bearer token and stores the caller identity
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			httputil.RespondWithError(c, apperrors.Unauthenticated(nil))
			return
		}

		user, err := m.authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}

		c.Set(ContextUser, user)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated caller holds one of roles.
// It must run after Authenticate.
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			httputil.RespondWithError(c, apperrors.Unauthenticated(nil))
			return
		}
		if !user.HasRole(roles...) {
			httputil.RespondWithError(c, apperrors.Forbidden("Access denied: insufficient role"))
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identity set by Authenticate.
func CurrentUser(c *gin.Context) (model.AuthenticatedUser, bool) {
	v, exists := c.Get(ContextUser)
	if !exists {
		return model.AuthenticatedUser{}, false
	}
	user, ok := v.(model.AuthenticatedUser)
	return user, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

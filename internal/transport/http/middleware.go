package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/util"
)

const (
	contextClaimsKey = "auth.claims"
	contextTokenKey  = "auth.token"
)

// RequireAuth accepts a bearer token issued for one tenant environment.
func RequireAuth(tokens *util.JWTManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if strings.TrimSpace(authHeader) == "" {
				return c.JSON(http.StatusUnauthorized, util.Error("missing authorization header"))
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid authorization header"))
			}
			token := strings.TrimSpace(parts[1])
			claims, err := tokens.Parse(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, util.Error(err.Error()))
			}
			c.Set(contextClaimsKey, claims)
			c.Set(contextTokenKey, token)
			return next(c)
		}
	}
}

func CurrentClaims(c echo.Context) (*util.Claims, bool) {
	claims, ok := c.Get(contextClaimsKey).(*util.Claims)
	return claims, ok && claims != nil
}

// sessionKey scopes the :id path parameter to the caller's tenant environment.
func sessionKey(c echo.Context) (domain.SessionKey, error) {
	claims, ok := CurrentClaims(c)
	if !ok {
		return domain.SessionKey{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return domain.SessionKey{}, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return domain.SessionKey{TenantID: claims.TenantID, IsLive: claims.IsLive, ID: id}, nil
}

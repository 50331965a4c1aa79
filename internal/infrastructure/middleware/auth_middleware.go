package middleware

import (
	"errors"
	"strings"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/services"
	apperrors "confvideo/pkg/errors"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth_claims"

// AuthMiddleware requires a valid bearer token and stores its claims on the
// gin context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, services.ErrExpiredToken) {
				msg = "token expired"
			}
			abortWithError(c, apperrors.NewUnauthorizedError(msg))
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole lets the request through only when the caller's token grants
// role. It must run after AuthMiddleware.
func RequireRole(authService services.AuthService, role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFromContext(c)
		if claims == nil {
			abortWithError(c, apperrors.NewUnauthorizedError("authentication required"))
			return
		}
		if err := authService.Authorize(claims, role); err != nil {
			abortWithError(c, apperrors.NewForbiddenError("insufficient permissions").
				WithContext("required_role", string(role)))
			return
		}
		c.Next()
	}
}

func ClaimsFromContext(c *gin.Context) (*services.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}

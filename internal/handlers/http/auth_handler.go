package http

import (
	"net/http"
	"strings"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/services"
	"confvideo/internal/infrastructure/middleware"
	apperrors "confvideo/pkg/errors"
	"confvideo/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler lets operators mint tokens for dashboards and other callers.
// The first operator token comes from the command line.
type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type IssueTokenRequest struct {
	Subject string      `json:"subject" binding:"required,min=1,max=100"`
	Role    domain.Role `json:"role" binding:"required"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format").WithContext("reason", err.Error()))
		return
	}

	req.Subject = strings.TrimSpace(req.Subject)
	if err := validation.ValidateSubject(req.Subject); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if !req.Role.Valid() {
		_ = c.Error(apperrors.NewInvalidInputError("role must be viewer or operator"))
		return
	}

	token, err := h.authService.GenerateToken(req.Subject, req.Role)
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subject":      req.Subject,
		"role":         req.Role,
		"access_token": token,
	})
}

// WhoAmI echoes the caller's claims.
func (h *AuthHandler) WhoAmI(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":    claims.Subject,
		"role":       claims.Role,
		"expires_at": claims.ExpiresAt,
	})
}

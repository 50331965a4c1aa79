package http

import (
	"context"
	"net/http"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	apperrors "confvideo/pkg/errors"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	receiver ports.ReceiverService
}

func NewSessionHandler(receiver ports.ReceiverService) *SessionHandler {
	return &SessionHandler{receiver: receiver}
}

type OpenSessionRequest struct {
	ParticipantID *int `json:"participant_id" binding:"required,min=0"`
	// Start connects the session right after opening it.
	Start bool `json:"start"`
}

func (h *SessionHandler) OpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format").WithContext("reason", err.Error()))
		return
	}

	ctx := c.Request.Context()
	info, err := h.receiver.Open(ctx, domain.ParticipantID(*req.ParticipantID))
	if err != nil {
		_ = c.Error(err)
		return
	}

	if req.Start {
		if err := h.receiver.Start(ctx, info.ID); err != nil {
			// the session stays open so the caller can retry start
			_ = c.Error(err)
			return
		}
		if info, err = h.receiver.Get(ctx, info.ID); err != nil {
			_ = c.Error(err)
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": info,
	})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.receiver.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	info, err := h.receiver.Get(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": info,
	})
}

func (h *SessionHandler) StartSession(c *gin.Context) {
	h.transition(c, h.receiver.Start)
}

func (h *SessionHandler) StopSession(c *gin.Context) {
	h.transition(c, h.receiver.Stop)
}

func (h *SessionHandler) CloseSession(c *gin.Context) {
	if err := h.receiver.Close(c.Request.Context(), domain.SessionID(c.Param("id"))); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// transition applies op to the session and renders its new state.
func (h *SessionHandler) transition(c *gin.Context, op func(ctx context.Context, id domain.SessionID) error) {
	id := domain.SessionID(c.Param("id"))
	ctx := c.Request.Context()

	if err := op(ctx, id); err != nil {
		_ = c.Error(err)
		return
	}

	info, err := h.receiver.Get(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": info,
	})
}

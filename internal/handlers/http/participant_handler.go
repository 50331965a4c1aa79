package http

import (
	"net/http"
	"strconv"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	apperrors "confvideo/pkg/errors"
	"confvideo/pkg/validation"

	"github.com/gin-gonic/gin"
)

// ParticipantHandler edits the participant directory sessions resolve
// streams from.
type ParticipantHandler struct {
	directory ports.ParticipantDirectory
}

func NewParticipantHandler(directory ports.ParticipantDirectory) *ParticipantHandler {
	return &ParticipantHandler{directory: directory}
}

type UpsertParticipantRequest struct {
	Name       string `json:"name" binding:"max=100"`
	HasStream  bool   `json:"has_stream"`
	StreamName string `json:"stream_name" binding:"max=256"`
}

func (h *ParticipantHandler) ListParticipants(c *gin.Context) {
	participants, err := h.directory.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participants": participants,
		"count":        len(participants),
	})
}

func (h *ParticipantHandler) GetParticipant(c *gin.Context) {
	id, ok := participantIDParam(c)
	if !ok {
		return
	}

	participant, err := h.directory.GetByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participant": participant,
	})
}

func (h *ParticipantHandler) UpsertParticipant(c *gin.Context) {
	id, ok := participantIDParam(c)
	if !ok {
		return
	}

	var req UpsertParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format").WithContext("reason", err.Error()))
		return
	}
	if err := validation.ValidateParticipantName(req.Name); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if req.HasStream || req.StreamName != "" {
		if err := validation.ValidateStreamName(req.StreamName); err != nil {
			_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	participant := domain.Participant{
		ID:         id,
		Name:       req.Name,
		HasStream:  req.HasStream,
		StreamName: domain.StreamName(req.StreamName),
	}
	if err := h.directory.Upsert(c.Request.Context(), participant); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participant": participant,
	})
}

func (h *ParticipantHandler) RemoveParticipant(c *gin.Context) {
	id, ok := participantIDParam(c)
	if !ok {
		return
	}

	if err := h.directory.Remove(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func participantIDParam(c *gin.Context) (domain.ParticipantID, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		_ = c.Error(apperrors.NewInvalidInputError("participant id must be a non-negative integer"))
		return 0, false
	}
	return domain.ParticipantID(id), true
}

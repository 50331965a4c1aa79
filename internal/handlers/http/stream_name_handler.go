package http

import (
	"net/http"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/streamid"
	apperrors "confvideo/pkg/errors"

	"github.com/gin-gonic/gin"
)

// StreamNameHandler exposes the stream identifier codec.
type StreamNameHandler struct{}

func NewStreamNameHandler() *StreamNameHandler {
	return &StreamNameHandler{}
}

type RatioQuery struct {
	ParticipantID *int   `form:"participant_id" binding:"required,min=0"`
	Stream        string `form:"stream"`
}

type FormatRequest struct {
	Width         int   `json:"width" binding:"required,min=1"`
	Height        int   `json:"height" binding:"required,min=1"`
	ParticipantID *int  `json:"participant_id" binding:"required,min=0"`
	Timestamp     int64 `json:"timestamp" binding:"min=0"`
}

// AspectRatio decodes the aspect ratio of a stream name. Names that do not
// carry dimensions answer -1, not an error.
func (h *StreamNameHandler) AspectRatio(c *gin.Context) {
	var q RatioQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("participant_id is required").WithContext("reason", err.Error()))
		return
	}

	id := domain.ParticipantID(*q.ParticipantID)
	name := domain.StreamName(q.Stream)

	resp := gin.H{
		"participant_id": id,
		"stream":         name,
		"aspect_ratio":   streamid.DecodeAspectRatio(id, name),
	}
	if dims, ok := streamid.Parse(id, name); ok {
		resp["width"] = dims.Width
		resp["height"] = dims.Height
	}
	c.JSON(http.StatusOK, resp)
}

// Format builds the stream name a publisher would use.
func (h *StreamNameHandler) Format(c *gin.Context) {
	var req FormatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format").WithContext("reason", err.Error()))
		return
	}

	dims := streamid.Dimensions{Width: req.Width, Height: req.Height}
	c.JSON(http.StatusOK, gin.H{
		"stream":       streamid.Format(dims, domain.ParticipantID(*req.ParticipantID), req.Timestamp),
		"aspect_ratio": dims.AspectRatio(),
	})
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/counselbridge-backend/internal/platform/apierr"
	"github.com/yungbote/counselbridge-backend/internal/platform/logger"
	"github.com/yungbote/counselbridge-backend/internal/services"
)

type SessionHandler struct {
	dialogue services.DialogueService
	log      *logger.Logger
}

func NewSessionHandler(dialogue services.DialogueService, baseLog *logger.Logger) *SessionHandler {
	return &SessionHandler{dialogue: dialogue, log: baseLog.With("handler", "session")}
}

type turnRequest struct {
	Utterance string `json:"utterance" binding:"required"`
}

// Turn handles POST /api/sessions/:id/turns. The session is created
// implicitly on its first turn.
func (h *SessionHandler) Turn(c *gin.Context) {
	id, err := parseSessionID(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.New(http.StatusBadRequest, "invalid_body", err))
		return
	}
	if strings.TrimSpace(req.Utterance) == "" {
		RespondError(c, apierr.New(http.StatusBadRequest, "empty_utterance", nil))
		return
	}
	result, err := h.dialogue.HandleTurn(c.Request.Context(), id, req.Utterance)
	if err != nil {
		h.log.Error("turn failed", "session_id", id.String(), "error", err.Error())
		RespondError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, result)
}

// Get handles GET /api/sessions/:id.
func (h *SessionHandler) Get(c *gin.Context) {
	id, err := parseSessionID(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	view, err := h.dialogue.GetSession(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, view)
}

// Report handles POST /api/sessions/:id/report.
func (h *SessionHandler) Report(c *gin.Context) {
	id, err := parseSessionID(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	report, err := h.dialogue.Report(c.Request.Context(), id)
	if err != nil {
		h.log.Error("report failed", "session_id", id.String(), "error", err.Error())
		RespondError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, report)
}

// Reset handles POST /api/sessions/:id/reset.
func (h *SessionHandler) Reset(c *gin.Context) {
	id, err := parseSessionID(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	view, err := h.dialogue.Reset(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, http.StatusOK, view)
}

func parseSessionID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.New(http.StatusBadRequest, "invalid_session_id", err)
	}
	return id, nil
}

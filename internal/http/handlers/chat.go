package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/service"
)

type StartSessionRequest struct {
	Fingerprint string `json:"fingerprint" validate:"required,max=128"`
	Name        string `json:"name" validate:"max=120"`
	Email       string `json:"email" validate:"omitempty,email"`
	Message     string `json:"message"`
	ClientID    string `json:"client_id" validate:"max=64"`
}

type SendMessageRequest struct {
	Content  string `json:"content" validate:"required"`
	ClientID string `json:"client_id" validate:"max=64"`
}

type ModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=AI LIVE"`
}

// @Summary Start or resume a chat session
// @Description Resumes the visitor's open session or starts a new one in AI mode
// @Tags chat
// @Accept json
// @Produce json
// @Param body body StartSessionRequest true "Visitor"
// @Success 200 {object} service.SendResult
// @Failure 400 {object} map[string]any
// @Router /api/chat/sessions [post]
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Chat.StartChatSession(c.Request.Context(), service.StartSessionInput{
		Fingerprint: req.Fingerprint,
		Name:        req.Name,
		Email:       req.Email,
		Message:     req.Message,
		ClientID:    req.ClientID,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary List a visitor's sessions
// @Tags chat
// @Produce json
// @Param fingerprint query string true "Visitor fingerprint"
// @Success 200 {object} map[string]any
// @Router /api/chat/sessions [get]
func (h *Handler) VisitorSessions(c *gin.Context) {
	items, err := h.Chat.GetVisitorSessions(c.Request.Context(), c.Query("fingerprint"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) SessionDetails(c *gin.Context) {
	sess, err := h.Chat.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// @Summary List session messages
// @Description Messages in send order. Pass the last seen id as after to fetch only newer ones.
// @Tags chat
// @Produce json
// @Param id path string true "Session ID"
// @Param after query string false "Last seen message ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/chat/sessions/{id}/messages [get]
func (h *Handler) SessionMessages(c *gin.Context) {
	items, err := h.Chat.GetChatMessages(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("after")))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "poll_interval_ms": h.PollInterval.Milliseconds()})
}

// @Summary Send a visitor message
// @Description Replaying a client_id returns the stored message with duplicate=true
// @Tags chat
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param body body SendMessageRequest true "Message"
// @Success 201 {object} service.SendResult
// @Failure 409 {object} map[string]any
// @Failure 429 {object} map[string]any
// @Router /api/chat/sessions/{id}/messages [post]
func (h *Handler) SendVisitorMessage(c *gin.Context) {
	var req SendMessageRequest
	if !h.bind(c, &req) {
		return
	}
	h.sendMessage(c, service.SendInput{
		SessionID:  c.Param("id"),
		SenderType: models.SenderVisitor,
		ClientID:   req.ClientID,
		Content:    req.Content,
	})
}

func (h *Handler) sendMessage(c *gin.Context, in service.SendInput) {
	res, err := h.Chat.SendChatMessage(c.Request.Context(), in)
	if err != nil && len(res.Messages) == 0 {
		h.serviceError(c, err)
		return
	}
	if err != nil {
		// the message itself is stored; only a follow-up step failed
		h.Logger.Warn().Err(err).Str("session_id", res.Session.ID).Msg("message follow-up failed")
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) MarkVisitorRead(c *gin.Context) {
	h.markRead(c, models.SenderVisitor)
}

func (h *Handler) markRead(c *gin.Context, reader string) {
	n, err := h.Chat.MarkMessagesAsRead(c.Request.Context(), c.Param("id"), reader)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

// @Summary Switch chat mode
// @Tags chat
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param body body ModeRequest true "Mode"
// @Success 200 {object} service.SendResult
// @Router /api/chat/sessions/{id}/mode [post]
func (h *Handler) SetMode(c *gin.Context) {
	var req ModeRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Chat.SetMode(c.Request.Context(), c.Param("id"), req.Mode)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

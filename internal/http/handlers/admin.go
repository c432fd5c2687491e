package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/service"
)

type AgentMessageRequest struct {
	AgentID  string `json:"agent_id" validate:"required"`
	AsAdmin  bool   `json:"as_admin"`
	Content  string `json:"content" validate:"required"`
	ClientID string `json:"client_id" validate:"max=64"`
}

type AgentRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	IsOnline bool   `json:"is_online"`
}

// @Summary List chat sessions
// @Tags admin
// @Produce json
// @Param status query string false "WAITING, ACTIVE or CLOSED"
// @Param mode query string false "AI or LIVE"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]any
// @Router /api/admin/chat/sessions [get]
func (h *Handler) AdminSessions(c *gin.Context) {
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	mode := strings.ToUpper(strings.TrimSpace(c.Query("mode")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Chat.ListSessions(c.Request.Context(), status, mode, limit, offset)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// @Summary Join a chat session
// @Description Assigns the agent, switches the session to LIVE and activates it
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param X-Agent-Id header string true "Agent ID"
// @Success 200 {object} service.SendResult
// @Router /api/admin/chat/sessions/{id}/join [post]
func (h *Handler) JoinSession(c *gin.Context) {
	agentID := strings.TrimSpace(c.GetHeader(AgentIDHeader))
	if agentID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", AgentIDHeader+" header is required", nil)
		return
	}
	res, err := h.Chat.JoinSession(c.Request.Context(), c.Param("id"), agentID)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) SendAgentMessage(c *gin.Context) {
	var req AgentMessageRequest
	if !h.bind(c, &req) {
		return
	}
	sender := models.SenderAgent
	if req.AsAdmin {
		sender = models.SenderAdmin
	}
	h.sendMessage(c, service.SendInput{
		SessionID:  c.Param("id"),
		SenderType: sender,
		SenderID:   req.AgentID,
		ClientID:   req.ClientID,
		Content:    req.Content,
	})
}

func (h *Handler) MarkAgentRead(c *gin.Context) {
	h.markRead(c, models.SenderAgent)
}

func (h *Handler) CloseSession(c *gin.Context) {
	sess, err := h.Chat.CloseSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) AgentsList(c *gin.Context) {
	onlineOnly := c.Query("online") == "1" || strings.EqualFold(c.Query("online"), "true")
	items, err := h.Store.ListAgents(c.Request.Context(), onlineOnly)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list agents", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Create or update an agent
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param body body AgentRequest true "Agent"
// @Success 200 {object} models.Agent
// @Router /api/admin/agents/{id} [put]
func (h *Handler) PutAgent(c *gin.Context) {
	var req AgentRequest
	if !h.bind(c, &req) {
		return
	}
	agent, err := h.Store.UpsertAgent(c.Request.Context(), models.Agent{
		ID:       c.Param("id"),
		Name:     strings.TrimSpace(req.Name),
		IsOnline: req.IsOnline,
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save agent", err.Error())
		return
	}
	c.JSON(http.StatusOK, agent)
}

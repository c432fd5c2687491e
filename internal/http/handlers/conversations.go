package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marketplace_support/backend/internal/models"
)

type StartConversationRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	VendorID   string `json:"vendor_id" validate:"required"`
}

type ConversationMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// @Summary List the caller's conversations
// @Description Each item carries the caller's unread_count
// @Tags conversations
// @Produce json
// @Param X-Party-Role header string true "CUSTOMER or VENDOR"
// @Param X-Party-Id header string true "Customer or vendor ID"
// @Success 200 {object} map[string]any
// @Router /api/conversations [get]
func (h *Handler) ConversationsList(c *gin.Context) {
	p, ok := party(c)
	if !ok {
		return
	}
	items, err := h.Conversations.ListConversations(c.Request.Context(), p)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) StartConversation(c *gin.Context) {
	p, ok := party(c)
	if !ok {
		return
	}
	var req StartConversationRequest
	if !h.bind(c, &req) {
		return
	}
	if (p.Role == models.RoleCustomer && p.ID != req.CustomerID) || (p.Role == models.RoleVendor && p.ID != req.VendorID) {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "Cannot start a conversation for another party", nil)
		return
	}
	conv, err := h.Conversations.StartConversation(c.Request.Context(), req.CustomerID, req.VendorID)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// @Summary Open a conversation
// @Description Returns the thread and resets the caller's unread counter
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} service.ConversationThread
// @Failure 403 {object} map[string]any
// @Router /api/conversations/{id}/open [post]
func (h *Handler) OpenConversation(c *gin.Context) {
	p, ok := party(c)
	if !ok {
		return
	}
	thread, err := h.Conversations.OpenConversation(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (h *Handler) SendConversationMessage(c *gin.Context) {
	p, ok := party(c)
	if !ok {
		return
	}
	var req ConversationMessageRequest
	if !h.bind(c, &req) {
		return
	}
	msg, conv, err := h.Conversations.SendConversationMessage(c.Request.Context(), c.Param("id"), p, req.Content)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "conversation": conv})
}

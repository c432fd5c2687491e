package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/service"
)

type OpenDisputeRequest struct {
	OrderID     string       `json:"order_id" validate:"required"`
	VendorID    string       `json:"vendor_id" validate:"required"`
	OrderAmount models.Money `json:"order_amount" validate:"gte=0"`
	Reason      string       `json:"reason" validate:"required,max=2000"`
}

type ResolveDisputeRequest struct {
	BuyerPercentage *int   `json:"buyer_percentage" validate:"required,min=0,max=100"`
	Resolution      string `json:"resolution" validate:"required,max=4000"`
}

// @Summary Open a dispute
// @Tags disputes
// @Accept json
// @Produce json
// @Param X-Party-Role header string true "CUSTOMER"
// @Param X-Party-Id header string true "Customer ID"
// @Param body body OpenDisputeRequest true "Dispute"
// @Success 201 {object} models.Dispute
// @Router /api/disputes [post]
func (h *Handler) OpenDispute(c *gin.Context) {
	p, ok := party(c)
	if !ok {
		return
	}
	if p.Role != models.RoleCustomer {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "Only customers can open disputes", nil)
		return
	}
	var req OpenDisputeRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.Disputes.OpenDispute(c.Request.Context(), service.OpenDisputeInput{
		OrderID:     req.OrderID,
		CustomerID:  p.ID,
		VendorID:    req.VendorID,
		OrderAmount: req.OrderAmount,
		Reason:      req.Reason,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) DisputesList(c *gin.Context) {
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	items, err := h.Disputes.ListDisputes(c.Request.Context(), status)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) DisputeDetails(c *gin.Context) {
	d, err := h.Disputes.GetDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) ReviewDispute(c *gin.Context) {
	d, err := h.Disputes.StartReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// @Summary Preview a refund split
// @Tags disputes
// @Produce json
// @Param id path string true "Dispute ID"
// @Param pct query int true "Buyer percentage 0-100"
// @Success 200 {object} map[string]any
// @Router /api/admin/disputes/{id}/split [get]
func (h *Handler) PreviewSplit(c *gin.Context) {
	pct, err := strconv.Atoi(c.Query("pct"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "pct must be an integer", nil)
		return
	}
	buyer, seller, err := h.Disputes.PreviewSplit(c.Request.Context(), c.Param("id"), pct)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buyer_percentage": pct, "buyer_amount": buyer, "seller_amount": seller})
}

// @Summary Resolve a dispute
// @Description Applies the buyer/seller split. A dispute can be resolved once.
// @Tags disputes
// @Accept json
// @Produce json
// @Param id path string true "Dispute ID"
// @Param X-Agent-Id header string false "Resolving admin"
// @Param body body ResolveDisputeRequest true "Resolution"
// @Success 200 {object} models.Dispute
// @Failure 409 {object} map[string]any
// @Router /api/admin/disputes/{id}/resolve [post]
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveDisputeRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.Disputes.ResolveDispute(c.Request.Context(), service.ResolveInput{
		DisputeID:       c.Param("id"),
		AdminID:         c.GetHeader(AgentIDHeader),
		BuyerPercentage: *req.BuyerPercentage,
		Resolution:      req.Resolution,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) JoinDispute(c *gin.Context) {
	thread, err := h.Disputes.JoinDisputeConversation(c.Request.Context(), c.Param("id"), c.GetHeader(AgentIDHeader))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/pubsub"
	"github.com/marketplace_support/backend/internal/service"
)

const (
	PartyRoleHeader = "X-Party-Role"
	PartyIDHeader   = "X-Party-Id"
	AgentIDHeader   = "X-Agent-Id"
)

// Store is the part of the database the handlers use directly.
type Store interface {
	Ping(ctx context.Context) error
	UpsertAgent(ctx context.Context, a models.Agent) (models.Agent, error)
	ListAgents(ctx context.Context, onlineOnly bool) ([]models.Agent, error)
}

type Handler struct {
	Store         Store
	Chat          *service.ChatService
	Conversations *service.ConversationService
	Disputes      *service.DisputeService
	Broker        pubsub.Broker
	Validator     *validator.Validate
	Logger        zerolog.Logger
	PollInterval  time.Duration
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bind decodes and validates a JSON body. It writes the error response and
// returns false when the payload is unusable.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

// serviceError maps service errors onto the error envelope.
func (h *Handler) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, service.ErrInvalidSender),
		errors.Is(err, service.ErrInvalidMode),
		errors.Is(err, service.ErrInvalidSplit),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrResolutionRequired),
		errors.Is(err, service.ErrFingerprintRequired):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, service.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, service.ErrSessionClosed):
		writeError(c, http.StatusConflict, "SESSION_CLOSED", err.Error(), nil)
	case errors.Is(err, service.ErrAlreadyResolved):
		writeError(c, http.StatusConflict, "ALREADY_RESOLVED", err.Error(), nil)
	case errors.Is(err, service.ErrRateLimited):
		writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil)
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", err.Error())
	}
}

// party reads the acting customer, vendor or admin from the request headers.
func party(c *gin.Context) (service.Party, bool) {
	p := service.Party{
		Role: strings.ToUpper(strings.TrimSpace(c.GetHeader(PartyRoleHeader))),
		ID:   strings.TrimSpace(c.GetHeader(PartyIDHeader)),
	}
	if p.ID == "" {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", PartyIDHeader+" header is required", nil)
		return p, false
	}
	switch p.Role {
	case models.RoleCustomer, models.RoleVendor:
		return p, true
	}
	writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", PartyRoleHeader+" must be CUSTOMER or VENDOR", nil)
	return p, false
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

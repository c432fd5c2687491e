package service

import (
	"context"

	"github.com/marketplace_support/backend/internal/models"
)

// ChatStore is the persistence the chat service needs. *db.Store implements it.
type ChatStore interface {
	CreateSession(ctx context.Context, sess models.ChatSession) (models.ChatSession, error)
	GetSession(ctx context.Context, id string) (models.ChatSession, error)
	FindOpenSessionByFingerprint(ctx context.Context, fingerprint string) (models.ChatSession, error)
	ListVisitorSessions(ctx context.Context, fingerprint string) ([]models.ChatSession, error)
	ListSessions(ctx context.Context, status, mode string, limit, offset int) ([]models.ChatSession, error)
	ActivateSession(ctx context.Context, id string) (bool, error)
	UpdateSessionMode(ctx context.Context, id, mode string) (bool, error)
	AssignAgent(ctx context.Context, id, agentID string) error
	CloseSession(ctx context.Context, id string, notice models.Message) (models.ChatSession, models.Message, bool, error)
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, bool, error)
	FindMessageByClientID(ctx context.Context, sessionID, clientID string) (models.Message, error)
	ListMessages(ctx context.Context, sessionID, afterID string) ([]models.Message, error)
	MarkMessagesRead(ctx context.Context, sessionID string, senderTypes []string) (int64, error)
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	ListAgents(ctx context.Context, onlineOnly bool) ([]models.Agent, error)
	UpdateAgentLoad(ctx context.Context, agentID string, delta int) error
}

type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, customerID, vendorID string) (models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversations(ctx context.Context, role, partyID string) ([]models.Conversation, error)
	AppendConversationMessage(ctx context.Context, msg models.ConversationMessage) (models.ConversationMessage, models.Conversation, error)
	ListConversationMessages(ctx context.Context, conversationID string) ([]models.ConversationMessage, error)
	ResetUnread(ctx context.Context, conversationID, role string) (models.Conversation, error)
}

type DisputeStore interface {
	CreateDispute(ctx context.Context, d models.Dispute) (models.Dispute, error)
	GetDispute(ctx context.Context, id string) (models.Dispute, error)
	ListDisputes(ctx context.Context, status string) ([]models.Dispute, error)
	MarkDisputeInReview(ctx context.Context, id string) (models.Dispute, error)
	ResolveDispute(ctx context.Context, id string, resolution models.Dispute) (models.Dispute, error)
	SetDisputeConversation(ctx context.Context, id, conversationID string) (models.Dispute, error)
}

// RateLimiter counts one hit for key and reports whether it is allowed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/pubsub"
)

// Party identifies who is acting on a conversation.
type Party struct {
	Role string
	ID   string
}

type ConversationService struct {
	Store  ConversationStore
	Broker pubsub.Broker
	Logger zerolog.Logger
}

// ConversationView is a conversation as one party sees it in the inbox.
type ConversationView struct {
	models.Conversation
	UnreadCount int `json:"unread_count"`
}

type ConversationThread struct {
	Conversation models.Conversation         `json:"conversation"`
	Messages     []models.ConversationMessage `json:"messages"`
}

func (p Party) valid() bool {
	if strings.TrimSpace(p.ID) == "" {
		return false
	}
	switch p.Role {
	case models.RoleCustomer, models.RoleVendor, models.RoleAdmin:
		return true
	}
	return false
}

func (p Party) canAccess(c models.Conversation) bool {
	switch p.Role {
	case models.RoleCustomer:
		return c.CustomerID == p.ID
	case models.RoleVendor:
		return c.VendorID == p.ID
	case models.RoleAdmin:
		return true
	}
	return false
}

func (s *ConversationService) ListConversations(ctx context.Context, party Party) ([]ConversationView, error) {
	if !party.valid() || party.Role == models.RoleAdmin {
		return nil, ErrForbidden
	}
	convs, err := s.Store.ListConversations(ctx, party.Role, party.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationView{Conversation: c, UnreadCount: c.UnreadFor(party.Role)})
	}
	return out, nil
}

// StartConversation returns the conversation between a customer and a
// vendor, creating it on first contact.
func (s *ConversationService) StartConversation(ctx context.Context, customerID, vendorID string) (models.Conversation, error) {
	customerID, vendorID = strings.TrimSpace(customerID), strings.TrimSpace(vendorID)
	if customerID == "" || vendorID == "" {
		return models.Conversation{}, ErrForbidden
	}
	return s.Store.GetOrCreateConversation(ctx, customerID, vendorID)
}

// OpenConversation loads the thread and resets the opener's unread counter.
// Admins read without touching either counter.
func (s *ConversationService) OpenConversation(ctx context.Context, id string, party Party) (ConversationThread, error) {
	if !party.valid() {
		return ConversationThread{}, ErrForbidden
	}
	conv, err := s.Store.GetConversation(ctx, id)
	if err != nil {
		return ConversationThread{}, err
	}
	if !party.canAccess(conv) {
		return ConversationThread{}, ErrForbidden
	}

	if party.Role != models.RoleAdmin && conv.UnreadFor(party.Role) > 0 {
		conv, err = s.Store.ResetUnread(ctx, conv.ID, party.Role)
		if err != nil {
			return ConversationThread{}, err
		}
		publish(ctx, s.Broker, s.Logger, pubsub.ConversationTopic(conv.ID), pubsub.EventConversationRead, map[string]string{
			"conversation_id": conv.ID,
			"role":            party.Role,
		})
	}

	msgs, err := s.Store.ListConversationMessages(ctx, conv.ID)
	if err != nil {
		return ConversationThread{}, err
	}
	return ConversationThread{Conversation: conv, Messages: msgs}, nil
}

// SendConversationMessage appends a message and bumps the unread counter of
// the other side.
func (s *ConversationService) SendConversationMessage(ctx context.Context, id string, party Party, content string) (models.ConversationMessage, models.Conversation, error) {
	if !party.valid() {
		return models.ConversationMessage{}, models.Conversation{}, ErrForbidden
	}
	content, err := normalizeContent(content)
	if err != nil {
		return models.ConversationMessage{}, models.Conversation{}, err
	}
	conv, err := s.Store.GetConversation(ctx, id)
	if err != nil {
		return models.ConversationMessage{}, models.Conversation{}, err
	}
	if !party.canAccess(conv) {
		return models.ConversationMessage{}, models.Conversation{}, ErrForbidden
	}

	msg, conv, err := s.Store.AppendConversationMessage(ctx, models.ConversationMessage{
		ConversationID: conv.ID,
		SenderRole:     party.Role,
		SenderID:       party.ID,
		Content:        content,
	})
	if err != nil {
		return models.ConversationMessage{}, models.Conversation{}, err
	}
	publish(ctx, s.Broker, s.Logger, pubsub.ConversationTopic(conv.ID), pubsub.EventConversationMsg, msg)
	return msg, conv, nil
}

package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketplace_support/backend/internal/models"
)

const conversationColumns = `id, customer_id, vendor_id, last_message, customer_unread, vendor_unread, updated_at`

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.CustomerID, &c.VendorID, &c.LastMessage, &c.CustomerUnread, &c.VendorUnread, &c.UpdatedAt)
	return c, err
}

// unreadColumn maps a party role to its unread counter column.
func unreadColumn(role string) (string, error) {
	switch role {
	case models.RoleCustomer:
		return "customer_unread", nil
	case models.RoleVendor:
		return "vendor_unread", nil
	default:
		return "", fmt.Errorf("no unread counter for role %q", role)
	}
}

func (s *Store) GetOrCreateConversation(ctx context.Context, customerID, vendorID string) (models.Conversation, error) {
	return scanConversation(s.Pool.QueryRow(ctx, `
		INSERT INTO conversations (id, customer_id, vendor_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, vendor_id) DO UPDATE SET customer_id = EXCLUDED.customer_id
		RETURNING `+conversationColumns, uuid.NewString(), customerID, vendorID))
}

func (s *Store) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	c, err := scanConversation(s.Pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	return c, notFound(err)
}

// ListConversations returns the conversations a party takes part in, most
// recently active first.
func (s *Store) ListConversations(ctx context.Context, role, partyID string) ([]models.Conversation, error) {
	column := "customer_id"
	if role == models.RoleVendor {
		column = "vendor_id"
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE `+column+` = $1 ORDER BY updated_at DESC`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AppendConversationMessage stores the message and, in the same transaction,
// bumps the unread counter of every side other than the sender's.
func (s *Store) AppendConversationMessage(ctx context.Context, msg models.ConversationMessage) (models.ConversationMessage, models.Conversation, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var (
		out  models.ConversationMessage
		conv models.Conversation
	)
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO conversation_messages (id, conversation_id, sender_role, sender_id, content)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, conversation_id, sender_role, sender_id, content, created_at`,
			msg.ID, msg.ConversationID, msg.SenderRole, msg.SenderID, msg.Content,
		).Scan(&out.ID, &out.ConversationID, &out.SenderRole, &out.SenderID, &out.Content, &out.CreatedAt)
		if err != nil {
			return err
		}

		customerDelta, vendorDelta := 1, 1
		switch msg.SenderRole {
		case models.RoleCustomer:
			customerDelta = 0
		case models.RoleVendor:
			vendorDelta = 0
		}
		conv, err = scanConversation(tx.QueryRow(ctx, `
			UPDATE conversations
			SET last_message = $2, customer_unread = customer_unread + $3, vendor_unread = vendor_unread + $4, updated_at = NOW()
			WHERE id = $1
			RETURNING `+conversationColumns, msg.ConversationID, msg.Content, customerDelta, vendorDelta))
		return notFound(err)
	})
	return out, conv, err
}

func (s *Store) ListConversationMessages(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, conversation_id, sender_role, sender_id, content, created_at
		FROM conversation_messages WHERE conversation_id = $1 ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ConversationMessage{}
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderRole, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ResetUnread zeroes the unread counter of one side of the conversation.
func (s *Store) ResetUnread(ctx context.Context, conversationID, role string) (models.Conversation, error) {
	column, err := unreadColumn(role)
	if err != nil {
		return models.Conversation{}, err
	}
	c, err := scanConversation(s.Pool.QueryRow(ctx, `UPDATE conversations SET `+column+` = 0 WHERE id = $1 RETURNING `+conversationColumns, conversationID))
	return c, notFound(err)
}

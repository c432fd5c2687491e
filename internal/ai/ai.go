package ai

import (
	"context"

	"github.com/marketplace_support/backend/internal/models"
)

// AssistantSenderID is the sender id stored on messages written by the
// automated assistant.
const AssistantSenderID = "assistant"

// Responder produces the assistant's next reply for a chat session given the
// session history, oldest message first.
type Responder interface {
	Reply(ctx context.Context, history []models.Message) (string, error)
}

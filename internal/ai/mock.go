package ai

import (
	"context"
	"strings"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/utils"
)

// MockResponder answers from a fixed set of replies. It is used when no AI
// endpoint is configured.
type MockResponder struct{}

var topicReplies = []struct {
	keywords []string
	reply    string
}{
	{[]string{"refund", "return", "money back"}, "Refunds are issued to the original payment method within 5-7 business days after the vendor accepts the return. You can start a return from Orders > Request return."},
	{[]string{"shipping", "delivery", "track"}, "You can follow your parcel from Orders > Track package. Most vendors ship within 2 business days."},
	{[]string{"dispute", "complaint", "problem with"}, "If you and the vendor can't agree, open a dispute from the order page and our team will review it."},
	{[]string{"password", "login", "sign in"}, "Use \"Forgot password\" on the sign-in page and we'll email you a reset link."},
}

var fallbackReplies = []string{
	"Thanks for reaching out! Could you share your order number so I can take a look?",
	"I'm the marketplace assistant. I can help with orders, shipping, returns and disputes.",
	"Got it. Can you tell me a bit more about what happened?",
}

func (MockResponder) Reply(_ context.Context, history []models.Message) (string, error) {
	last := lastVisitorMessage(history)
	lower := strings.ToLower(last)
	for _, t := range topicReplies {
		for _, k := range t.keywords {
			if strings.Contains(lower, k) {
				return t.reply, nil
			}
		}
	}
	return fallbackReplies[utils.PickIndex(last, len(fallbackReplies))], nil
}

func lastVisitorMessage(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].SenderType == models.SenderVisitor {
			return history[i].Content
		}
	}
	return ""
}

package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketplace_support/backend/internal/events"
	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/pubsub"
)

type DisputeService struct {
	Store         DisputeStore
	Conversations *ConversationService
	Broker        pubsub.Broker
	Events        events.Publisher
	Logger        zerolog.Logger
}

type OpenDisputeInput struct {
	OrderID     string
	CustomerID  string
	VendorID    string
	OrderAmount models.Money
	Reason      string
}

type ResolveInput struct {
	DisputeID       string
	AdminID         string
	BuyerPercentage int
	Resolution      string
}

type DisputeThread struct {
	Dispute      models.Dispute              `json:"dispute"`
	Conversation models.Conversation         `json:"conversation"`
	Message      *models.ConversationMessage `json:"message,omitempty"`
}

// MaxOrderAmount is the largest order amount a split can be computed for
// without overflowing.
const MaxOrderAmount = models.Money(math.MaxInt64 / 100)

// ComputeSplit divides orderAmount between buyer and seller. The buyer share is
// rounded half up to the cent and the seller gets the remainder, so the two
// always add up to the order amount.
func ComputeSplit(orderAmount models.Money, buyerPct int) (buyer, seller models.Money, err error) {
	if buyerPct < 0 || buyerPct > 100 {
		return 0, 0, ErrInvalidSplit
	}
	if orderAmount < 0 || orderAmount > MaxOrderAmount {
		return 0, 0, ErrInvalidAmount
	}
	buyer = (orderAmount*models.Money(buyerPct) + 50) / 100
	return buyer, orderAmount - buyer, nil
}

func (s *DisputeService) OpenDispute(ctx context.Context, in OpenDisputeInput) (models.Dispute, error) {
	if in.OrderAmount < 0 || in.OrderAmount > MaxOrderAmount {
		return models.Dispute{}, ErrInvalidAmount
	}
	d, err := s.Store.CreateDispute(ctx, models.Dispute{
		OrderID:     strings.TrimSpace(in.OrderID),
		CustomerID:  strings.TrimSpace(in.CustomerID),
		VendorID:    strings.TrimSpace(in.VendorID),
		OrderAmount: in.OrderAmount,
		Reason:      strings.TrimSpace(in.Reason),
	})
	if err != nil {
		return models.Dispute{}, err
	}
	s.Logger.Info().Str("dispute_id", d.ID).Str("order_id", d.OrderID).Msg("dispute opened")
	return d, nil
}

func (s *DisputeService) GetDispute(ctx context.Context, id string) (models.Dispute, error) {
	return s.Store.GetDispute(ctx, id)
}

func (s *DisputeService) ListDisputes(ctx context.Context, status string) ([]models.Dispute, error) {
	return s.Store.ListDisputes(ctx, status)
}

func (s *DisputeService) StartReview(ctx context.Context, id string) (models.Dispute, error) {
	return s.Store.MarkDisputeInReview(ctx, id)
}

// PreviewSplit computes the split an admin would apply without resolving.
func (s *DisputeService) PreviewSplit(ctx context.Context, id string, buyerPct int) (buyer, seller models.Money, err error) {
	d, err := s.Store.GetDispute(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	return ComputeSplit(d.OrderAmount, buyerPct)
}

// ResolveDispute applies the split and records the resolution. A dispute is
// resolved once; later attempts fail with ErrAlreadyResolved.
func (s *DisputeService) ResolveDispute(ctx context.Context, in ResolveInput) (models.Dispute, error) {
	resolution := strings.TrimSpace(in.Resolution)
	if resolution == "" {
		return models.Dispute{}, ErrResolutionRequired
	}
	if in.BuyerPercentage < 0 || in.BuyerPercentage > 100 {
		return models.Dispute{}, ErrInvalidSplit
	}

	d, err := s.Store.GetDispute(ctx, in.DisputeID)
	if err != nil {
		return models.Dispute{}, err
	}
	if d.Status == models.DisputeResolved {
		return models.Dispute{}, ErrAlreadyResolved
	}
	buyer, seller, err := ComputeSplit(d.OrderAmount, in.BuyerPercentage)
	if err != nil {
		return models.Dispute{}, err
	}

	pct := in.BuyerPercentage
	resolved, err := s.Store.ResolveDispute(ctx, d.ID, models.Dispute{
		Resolution:      &resolution,
		BuyerPercentage: &pct,
		BuyerAmount:     &buyer,
		SellerAmount:    &seller,
		RefundAmount:    &buyer,
		ResolvedBy:      optional(in.AdminID),
	})
	if err != nil {
		return models.Dispute{}, err
	}
	s.Logger.Info().
		Str("dispute_id", resolved.ID).
		Int("buyer_percentage", pct).
		Str("buyer_amount", buyer.String()).
		Str("seller_amount", seller.String()).
		Msg("dispute resolved")

	publish(ctx, s.Broker, s.Logger, pubsub.DisputeTopic(resolved.ID), pubsub.EventDisputeResolved, resolved)
	if s.Events != nil {
		resolvedAt := time.Now().UTC()
		if resolved.ResolvedAt != nil {
			resolvedAt = *resolved.ResolvedAt
		}
		// the resolution is committed; a lost event is logged, not returned
		err := s.Events.Publish(ctx, events.RoutingDisputeResolved, events.DisputeResolved{
			DisputeID:    resolved.ID,
			OrderID:      resolved.OrderID,
			CustomerID:   resolved.CustomerID,
			VendorID:     resolved.VendorID,
			BuyerAmount:  buyer.String(),
			SellerAmount: seller.String(),
			ResolvedBy:   strings.TrimSpace(in.AdminID),
			ResolvedAt:   resolvedAt,
		})
		if err != nil {
			s.Logger.Error().Err(err).Str("dispute_id", resolved.ID).Msg("dispute.resolved event not published")
		}
	}
	return resolved, nil
}

// JoinDisputeConversation attaches the customer/vendor conversation to the
// dispute and posts an admin notice into it. The notice is posted only when
// the conversation is first attached.
func (s *DisputeService) JoinDisputeConversation(ctx context.Context, id, adminID string) (DisputeThread, error) {
	d, err := s.Store.GetDispute(ctx, id)
	if err != nil {
		return DisputeThread{}, err
	}
	conv, err := s.Conversations.StartConversation(ctx, d.CustomerID, d.VendorID)
	if err != nil {
		return DisputeThread{}, err
	}
	out := DisputeThread{Dispute: d, Conversation: conv}
	if d.ConversationID != nil && *d.ConversationID == conv.ID {
		return out, nil
	}

	d, err = s.Store.SetDisputeConversation(ctx, d.ID, conv.ID)
	if err != nil {
		return DisputeThread{}, err
	}
	admin := Party{Role: models.RoleAdmin, ID: strings.TrimSpace(adminID)}
	if admin.ID == "" {
		admin.ID = "admin"
	}
	msg, conv, err := s.Conversations.SendConversationMessage(ctx, conv.ID, admin,
		fmt.Sprintf("A marketplace admin joined to help resolve the dispute on order %s.", d.OrderID))
	if err != nil {
		return DisputeThread{}, err
	}
	out.Dispute, out.Conversation, out.Message = d, conv, &msg
	return out, nil
}

package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketplace_support/backend/internal/models"
)

var ErrAlreadyResolved = errors.New("dispute already resolved")

const disputeColumns = `id, order_id, customer_id, vendor_id, order_amount, status, reason, resolution, buyer_percentage,
	buyer_amount, seller_amount, refund_amount, conversation_id, resolved_by, resolved_at, created_at, updated_at`

func scanDispute(row pgx.Row) (models.Dispute, error) {
	var (
		d                         models.Dispute
		orderAmount               int64
		buyerAmount, sellerAmount *int64
		refundAmount              *int64
	)
	err := row.Scan(&d.ID, &d.OrderID, &d.CustomerID, &d.VendorID, &orderAmount, &d.Status, &d.Reason, &d.Resolution, &d.BuyerPercentage,
		&buyerAmount, &sellerAmount, &refundAmount, &d.ConversationID, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Dispute{}, err
	}
	d.OrderAmount = models.Money(orderAmount)
	d.BuyerAmount = moneyPtr(buyerAmount)
	d.SellerAmount = moneyPtr(sellerAmount)
	d.RefundAmount = moneyPtr(refundAmount)
	return d, nil
}

func moneyPtr(v *int64) *models.Money {
	if v == nil {
		return nil
	}
	m := models.Money(*v)
	return &m
}

func (s *Store) CreateDispute(ctx context.Context, d models.Dispute) (models.Dispute, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return scanDispute(s.Pool.QueryRow(ctx, `
		INSERT INTO disputes (id, order_id, customer_id, vendor_id, order_amount, status, reason)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', $6)
		RETURNING `+disputeColumns,
		d.ID, d.OrderID, d.CustomerID, d.VendorID, int64(d.OrderAmount), d.Reason))
}

func (s *Store) GetDispute(ctx context.Context, id string) (models.Dispute, error) {
	d, err := scanDispute(s.Pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	return d, notFound(err)
}

func (s *Store) ListDisputes(ctx context.Context, status string) ([]models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Dispute{}
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDisputeInReview moves a PENDING dispute to IN_REVIEW. Disputes already
// in review are returned unchanged.
func (s *Store) MarkDisputeInReview(ctx context.Context, id string) (models.Dispute, error) {
	return s.transitionDispute(ctx, id, func(tx pgx.Tx, current models.Dispute) (models.Dispute, error) {
		switch current.Status {
		case models.DisputeResolved:
			return models.Dispute{}, ErrAlreadyResolved
		case models.DisputeInReview:
			return current, nil
		}
		return scanDispute(tx.QueryRow(ctx, `UPDATE disputes SET status = 'IN_REVIEW', updated_at = NOW() WHERE id = $1 RETURNING `+disputeColumns, id))
	})
}

// ResolveDispute records the resolution exactly once. A resolved dispute is
// never updated again.
func (s *Store) ResolveDispute(ctx context.Context, id string, r models.Dispute) (models.Dispute, error) {
	return s.transitionDispute(ctx, id, func(tx pgx.Tx, current models.Dispute) (models.Dispute, error) {
		if current.Status == models.DisputeResolved {
			return models.Dispute{}, ErrAlreadyResolved
		}
		d, err := scanDispute(tx.QueryRow(ctx, `
			UPDATE disputes
			SET status = 'RESOLVED', resolution = $2, buyer_percentage = $3, buyer_amount = $4, seller_amount = $5,
				refund_amount = $6, resolved_by = $7, resolved_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status <> 'RESOLVED'
			RETURNING `+disputeColumns,
			id, r.Resolution, r.BuyerPercentage, moneyValue(r.BuyerAmount), moneyValue(r.SellerAmount), moneyValue(r.RefundAmount), r.ResolvedBy))
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Dispute{}, ErrAlreadyResolved
		}
		return d, err
	})
}

func (s *Store) SetDisputeConversation(ctx context.Context, id, conversationID string) (models.Dispute, error) {
	d, err := scanDispute(s.Pool.QueryRow(ctx, `UPDATE disputes SET conversation_id = $2, updated_at = NOW() WHERE id = $1 RETURNING `+disputeColumns, id, conversationID))
	return d, notFound(err)
}

func (s *Store) transitionDispute(ctx context.Context, id string, fn func(tx pgx.Tx, current models.Dispute) (models.Dispute, error)) (models.Dispute, error) {
	var out models.Dispute
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		current, err := scanDispute(tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}
		out, err = fn(tx, current)
		return err
	})
	return out, err
}

func moneyValue(m *models.Money) *int64 {
	if m == nil {
		return nil
	}
	v := int64(*m)
	return &v
}

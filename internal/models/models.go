package models

import "time"

const (
	SessionWaiting = "WAITING"
	SessionActive  = "ACTIVE"
	SessionClosed  = "CLOSED"

	ModeAI   = "AI"
	ModeLive = "LIVE"

	SenderVisitor = "VISITOR"
	SenderAgent   = "AGENT"
	SenderSystem  = "SYSTEM"
	SenderAdmin   = "ADMIN"

	RoleCustomer = "CUSTOMER"
	RoleVendor   = "VENDOR"
	RoleAdmin    = "ADMIN"

	DisputePending  = "PENDING"
	DisputeInReview = "IN_REVIEW"
	DisputeResolved = "RESOLVED"
)

type ChatSession struct {
	ID                 string     `json:"id"`
	VisitorFingerprint string     `json:"visitor_fingerprint"`
	VisitorName        string     `json:"visitor_name"`
	VisitorEmail       string     `json:"visitor_email"`
	Status             string     `json:"status"`
	Mode               string     `json:"mode"`
	AssignedAgentID    *string    `json:"assigned_agent_id"`
	StartedAt          time.Time  `json:"started_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SenderType string    `json:"sender_type"`
	SenderID   *string   `json:"sender_id,omitempty"`
	ClientID   *string   `json:"client_id,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	IsRead     bool      `json:"is_read"`
}

type Conversation struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customer_id"`
	VendorID       string    `json:"vendor_id"`
	LastMessage    string    `json:"last_message"`
	CustomerUnread int       `json:"customer_unread"`
	VendorUnread   int       `json:"vendor_unread"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UnreadFor returns the unread counter of the given side.
func (c Conversation) UnreadFor(role string) int {
	if role == RoleVendor {
		return c.VendorUnread
	}
	if role == RoleCustomer {
		return c.CustomerUnread
	}
	return 0
}

type ConversationMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderRole     string    `json:"sender_role"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type Dispute struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"order_id"`
	CustomerID      string     `json:"customer_id"`
	VendorID        string     `json:"vendor_id"`
	OrderAmount     Money      `json:"order_amount"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason"`
	Resolution      *string    `json:"resolution,omitempty"`
	BuyerPercentage *int       `json:"buyer_percentage,omitempty"`
	BuyerAmount     *Money     `json:"buyer_amount,omitempty"`
	SellerAmount    *Money     `json:"seller_amount,omitempty"`
	RefundAmount    *Money     `json:"refund_amount,omitempty"`
	ConversationID  *string    `json:"conversation_id,omitempty"`
	ResolvedBy      *string    `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsOnline    bool      `json:"is_online"`
	CurrentLoad int       `json:"current_load"`
	UpdatedAt   time.Time `json:"updated_at"`
}

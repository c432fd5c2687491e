// Package servicetest provides an in-memory store for exercising the
// services and handlers without Postgres.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marketplace_support/backend/internal/db"
	"github.com/marketplace_support/backend/internal/models"
)

// Store implements the chat, conversation and dispute stores in memory.
// Errors match the ones *db.Store returns.
type Store struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]models.ChatSession
	messages map[string][]models.Message
	agents   map[string]models.Agent
	convs    map[string]models.Conversation
	convMsgs map[string][]models.ConversationMessage
	disputes map[string]models.Dispute
}

func NewStore() *Store {
	return &Store{
		sessions: map[string]models.ChatSession{},
		messages: map[string][]models.Message{},
		agents:   map[string]models.Agent{},
		convs:    map[string]models.Conversation{},
		convMsgs: map[string][]models.ConversationMessage{},
		disputes: map[string]models.Dispute{},
	}
}

func (m *Store) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *Store) CreateSession(_ context.Context, sess models.ChatSession) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess.ID = m.nextID("s")
	sess.Status = models.SessionWaiting
	sess.Mode = models.ModeAI
	sess.StartedAt = time.Now().UTC()
	sess.UpdatedAt = sess.StartedAt
	m.sessions[sess.ID] = sess
	return sess, nil
}

func (m *Store) GetSession(_ context.Context, id string) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.ChatSession{}, db.ErrNotFound
	}
	return s, nil
}

func (m *Store) FindOpenSessionByFingerprint(_ context.Context, fp string) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.VisitorFingerprint == fp && s.Status != models.SessionClosed {
			return s, nil
		}
	}
	return models.ChatSession{}, db.ErrNotFound
}

func (m *Store) ListVisitorSessions(_ context.Context, fp string) ([]models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ChatSession{}
	for _, s := range m.sessions {
		if s.VisitorFingerprint == fp {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Store) ListSessions(_ context.Context, status, mode string, limit, offset int) ([]models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ChatSession{}
	for _, s := range m.sessions {
		if (status == "" || s.Status == status) && (mode == "" || s.Mode == mode) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) ActivateSession(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, db.ErrNotFound
	}
	if s.Status != models.SessionWaiting {
		return false, nil
	}
	s.Status = models.SessionActive
	m.sessions[id] = s
	return true, nil
}

func (m *Store) UpdateSessionMode(_ context.Context, id, mode string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, db.ErrNotFound
	}
	if s.Mode == mode || s.Status == models.SessionClosed {
		return false, nil
	}
	s.Mode = mode
	m.sessions[id] = s
	return true, nil
}

func (m *Store) AssignAgent(_ context.Context, id, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return db.ErrNotFound
	}
	s.AssignedAgentID = &agentID
	m.sessions[id] = s
	return nil
}

func (m *Store) CloseSession(_ context.Context, id string, notice models.Message) (models.ChatSession, models.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.ChatSession{}, models.Message{}, false, db.ErrNotFound
	}
	if s.Status == models.SessionClosed {
		return s, models.Message{}, false, nil
	}
	notice.SessionID = id
	posted := m.insertMessage(notice)
	now := time.Now().UTC()
	s.Status = models.SessionClosed
	s.ClosedAt = &now
	m.sessions[id] = s
	return s, posted, true, nil
}

func (m *Store) FindMessageByClientID(_ context.Context, sessionID, clientID string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byClientID(sessionID, clientID); ok {
		return existing, nil
	}
	return models.Message{}, db.ErrNotFound
}

func (m *Store) AppendMessage(_ context.Context, msg models.Message) (models.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[msg.SessionID]
	if !ok {
		return models.Message{}, false, db.ErrNotFound
	}
	if msg.ClientID != nil {
		if existing, ok := m.byClientID(msg.SessionID, *msg.ClientID); ok {
			return existing, false, nil
		}
	}
	if sess.Status == models.SessionClosed {
		return models.Message{}, false, db.ErrSessionClosed
	}
	return m.insertMessage(msg), true, nil
}

func (m *Store) byClientID(sessionID, clientID string) (models.Message, bool) {
	for _, existing := range m.messages[sessionID] {
		if existing.ClientID != nil && *existing.ClientID == clientID {
			return existing, true
		}
	}
	return models.Message{}, false
}

func (m *Store) insertMessage(msg models.Message) models.Message {
	msg.ID = m.nextID("m")
	msg.CreatedAt = time.Now().UTC()
	if prev := m.messages[msg.SessionID]; len(prev) > 0 {
		if last := prev[len(prev)-1].CreatedAt; !msg.CreatedAt.After(last) {
			msg.CreatedAt = last.Add(time.Microsecond)
		}
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return msg
}

func (m *Store) ListMessages(_ context.Context, sessionID, afterID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[sessionID]
	start := 0
	if afterID != "" {
		for i, msg := range all {
			if msg.ID == afterID {
				start = i + 1
			}
		}
	}
	return append([]models.Message{}, all[start:]...), nil
}

func (m *Store) MarkMessagesRead(_ context.Context, sessionID string, senders []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	msgs := m.messages[sessionID]
	for i := range msgs {
		if msgs[i].IsRead {
			continue
		}
		for _, st := range senders {
			if msgs[i].SenderType == st {
				msgs[i].IsRead = true
				n++
			}
		}
	}
	return n, nil
}

func (m *Store) GetAgent(_ context.Context, id string) (models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return models.Agent{}, db.ErrNotFound
	}
	return a, nil
}

func (m *Store) ListAgents(_ context.Context, onlineOnly bool) ([]models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Agent{}
	for _, a := range m.agents {
		if !onlineOnly || a.IsOnline {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Store) UpdateAgentLoad(_ context.Context, agentID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return db.ErrNotFound
	}
	a.CurrentLoad += delta
	if a.CurrentLoad < 0 {
		a.CurrentLoad = 0
	}
	m.agents[agentID] = a
	return nil
}

func (m *Store) GetOrCreateConversation(_ context.Context, customerID, vendorID string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.CustomerID == customerID && c.VendorID == vendorID {
			return c, nil
		}
	}
	c := models.Conversation{ID: m.nextID("c"), CustomerID: customerID, VendorID: vendorID, UpdatedAt: time.Now().UTC()}
	m.convs[c.ID] = c
	return c, nil
}

func (m *Store) GetConversation(_ context.Context, id string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return models.Conversation{}, db.ErrNotFound
	}
	return c, nil
}

func (m *Store) ListConversations(_ context.Context, role, partyID string) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Conversation{}
	for _, c := range m.convs {
		if (role == models.RoleCustomer && c.CustomerID == partyID) || (role == models.RoleVendor && c.VendorID == partyID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) AppendConversationMessage(_ context.Context, msg models.ConversationMessage) (models.ConversationMessage, models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[msg.ConversationID]
	if !ok {
		return models.ConversationMessage{}, models.Conversation{}, db.ErrNotFound
	}
	msg.ID = m.nextID("cm")
	msg.CreatedAt = time.Now().UTC()
	m.convMsgs[c.ID] = append(m.convMsgs[c.ID], msg)
	if msg.SenderRole != models.RoleCustomer {
		c.CustomerUnread++
	}
	if msg.SenderRole != models.RoleVendor {
		c.VendorUnread++
	}
	c.LastMessage = msg.Content
	m.convs[c.ID] = c
	return msg, c, nil
}

func (m *Store) ListConversationMessages(_ context.Context, id string) ([]models.ConversationMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ConversationMessage{}, m.convMsgs[id]...), nil
}

func (m *Store) ResetUnread(_ context.Context, id, role string) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return models.Conversation{}, db.ErrNotFound
	}
	if role == models.RoleCustomer {
		c.CustomerUnread = 0
	} else {
		c.VendorUnread = 0
	}
	m.convs[id] = c
	return c, nil
}

func (m *Store) CreateDispute(_ context.Context, d models.Dispute) (models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.nextID("d")
	d.Status = models.DisputePending
	d.CreatedAt = time.Now().UTC()
	m.disputes[d.ID] = d
	return d, nil
}

func (m *Store) GetDispute(_ context.Context, id string) (models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return models.Dispute{}, db.ErrNotFound
	}
	return d, nil
}

func (m *Store) ListDisputes(_ context.Context, status string) ([]models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Dispute{}
	for _, d := range m.disputes {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Store) MarkDisputeInReview(_ context.Context, id string) (models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return models.Dispute{}, db.ErrNotFound
	}
	if d.Status == models.DisputeResolved {
		return models.Dispute{}, db.ErrAlreadyResolved
	}
	d.Status = models.DisputeInReview
	m.disputes[id] = d
	return d, nil
}

func (m *Store) ResolveDispute(_ context.Context, id string, r models.Dispute) (models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return models.Dispute{}, db.ErrNotFound
	}
	if d.Status == models.DisputeResolved {
		return models.Dispute{}, db.ErrAlreadyResolved
	}
	now := time.Now().UTC()
	d.Status = models.DisputeResolved
	d.Resolution, d.BuyerPercentage = r.Resolution, r.BuyerPercentage
	d.BuyerAmount, d.SellerAmount, d.RefundAmount = r.BuyerAmount, r.SellerAmount, r.RefundAmount
	d.ResolvedBy, d.ResolvedAt = r.ResolvedBy, &now
	m.disputes[id] = d
	return d, nil
}

func (m *Store) SetDisputeConversation(_ context.Context, id, convID string) (models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return models.Dispute{}, db.ErrNotFound
	}
	d.ConversationID = &convID
	m.disputes[id] = d
	return d, nil
}

// AddAgent registers or replaces an agent.
func (m *Store) AddAgent(a models.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

func (m *Store) Agent(id string) models.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[id]
}

// UpsertAgent keeps the current load of an existing agent.
func (m *Store) UpsertAgent(_ context.Context, a models.Agent) (models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CurrentLoad = m.agents[a.ID].CurrentLoad
	a.UpdatedAt = time.Now().UTC()
	m.agents[a.ID] = a
	return a, nil
}

func (m *Store) Ping(context.Context) error { return nil }

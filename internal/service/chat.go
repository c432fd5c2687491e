package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/marketplace_support/backend/internal/ai"
	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/pubsub"
)

type ChatService struct {
	Store     ChatStore
	Responder ai.Responder
	Broker    pubsub.Broker
	Limiter   RateLimiter
	Logger    zerolog.Logger
}

type StartSessionInput struct {
	Fingerprint string
	Name        string
	Email       string
	Message     string
	ClientID    string
}

type SendInput struct {
	SessionID  string
	SenderType string
	SenderID   string
	ClientID   string
	Content    string
}

// SendResult carries the session after a write and every message the write
// produced, in order: the sent message first, then any system notice or
// assistant reply it triggered.
type SendResult struct {
	Session   models.ChatSession `json:"session"`
	Messages  []models.Message   `json:"messages"`
	Duplicate bool               `json:"duplicate"`
}

// StartChatSession resumes the visitor's open session or creates a new one,
// then sends the optional first message.
func (s *ChatService) StartChatSession(ctx context.Context, in StartSessionInput) (SendResult, error) {
	fp := strings.TrimSpace(in.Fingerprint)
	if fp == "" {
		return SendResult{}, ErrFingerprintRequired
	}

	sess, err := s.Store.FindOpenSessionByFingerprint(ctx, fp)
	switch {
	case errors.Is(err, ErrNotFound):
		sess, err = s.Store.CreateSession(ctx, models.ChatSession{
			VisitorFingerprint: fp,
			VisitorName:        strings.TrimSpace(in.Name),
			VisitorEmail:       strings.TrimSpace(in.Email),
		})
		if err != nil {
			return SendResult{}, err
		}
		s.Logger.Info().Str("session_id", sess.ID).Msg("chat session started")
	case err != nil:
		return SendResult{}, err
	}

	if strings.TrimSpace(in.Message) == "" {
		return SendResult{Session: sess, Messages: []models.Message{}}, nil
	}
	return s.SendChatMessage(ctx, SendInput{
		SessionID:  sess.ID,
		SenderType: models.SenderVisitor,
		ClientID:   in.ClientID,
		Content:    in.Message,
	})
}

// SendChatMessage stores a visitor, agent or admin message. A visitor message
// either switches the session to live mode or, in AI mode, gets an assistant
// reply. Replaying a client id returns the stored message without side effects.
func (s *ChatService) SendChatMessage(ctx context.Context, in SendInput) (SendResult, error) {
	content, err := normalizeContent(in.Content)
	if err != nil {
		return SendResult{}, err
	}
	switch in.SenderType {
	case models.SenderVisitor, models.SenderAgent, models.SenderAdmin:
	default:
		return SendResult{}, ErrInvalidSender
	}

	sess, err := s.Store.GetSession(ctx, in.SessionID)
	if err != nil {
		return SendResult{}, err
	}
	if in.ClientID != "" {
		stored, err := s.Store.FindMessageByClientID(ctx, sess.ID, in.ClientID)
		switch {
		case err == nil:
			return SendResult{Session: sess, Messages: []models.Message{stored}, Duplicate: true}, nil
		case !errors.Is(err, ErrNotFound):
			return SendResult{}, err
		}
	}
	if sess.Status == models.SessionClosed {
		return SendResult{}, ErrSessionClosed
	}
	if in.SenderType == models.SenderVisitor {
		if err := s.checkRate(ctx, sess.VisitorFingerprint); err != nil {
			return SendResult{}, err
		}
	}

	stored, created, err := s.Store.AppendMessage(ctx, models.Message{
		SessionID:  sess.ID,
		SenderType: in.SenderType,
		SenderID:   optional(in.SenderID),
		ClientID:   optional(in.ClientID),
		Content:    content,
	})
	if err != nil {
		return SendResult{}, err
	}
	res := SendResult{Session: sess, Messages: []models.Message{stored}, Duplicate: !created}
	if !created {
		return res, nil
	}
	s.publishMessage(ctx, stored)

	var follow []models.Message
	switch {
	case in.SenderType != models.SenderVisitor:
		err = s.activate(ctx, &sess)
	case DetectLiveRequest(content):
		follow, err = s.switchMode(ctx, &sess, models.ModeLive)
	case sess.Mode == models.ModeAI:
		follow, err = s.assistantReply(ctx, &sess)
	}
	if errors.Is(err, ErrSessionClosed) {
		// closed after the message was stored; the message stands, follow-ups don't
		s.Logger.Info().Str("session_id", sess.ID).Msg("session closed during send")
		sess.Status = models.SessionClosed
		err = nil
	}
	res.Messages = append(res.Messages, follow...)
	res.Session = sess
	return res, err
}

func (s *ChatService) GetChatMessages(ctx context.Context, sessionID, afterID string) ([]models.Message, error) {
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.Store.ListMessages(ctx, sessionID, afterID)
}

// MarkMessagesAsRead marks the messages addressed to reader as read: everything
// not sent by the visitor for a visitor, visitor messages for staff.
func (s *ChatService) MarkMessagesAsRead(ctx context.Context, sessionID, reader string) (int64, error) {
	var senders []string
	switch reader {
	case models.SenderVisitor:
		senders = []string{models.SenderAgent, models.SenderSystem, models.SenderAdmin}
	case models.SenderAgent, models.SenderAdmin:
		senders = []string{models.SenderVisitor}
	default:
		return 0, ErrInvalidSender
	}
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		return 0, err
	}
	return s.Store.MarkMessagesRead(ctx, sessionID, senders)
}

func (s *ChatService) GetVisitorSessions(ctx context.Context, fingerprint string) ([]models.ChatSession, error) {
	fp := strings.TrimSpace(fingerprint)
	if fp == "" {
		return nil, ErrFingerprintRequired
	}
	return s.Store.ListVisitorSessions(ctx, fp)
}

func (s *ChatService) GetSession(ctx context.Context, id string) (models.ChatSession, error) {
	return s.Store.GetSession(ctx, id)
}

func (s *ChatService) ListSessions(ctx context.Context, status, mode string, limit, offset int) ([]models.ChatSession, error) {
	if mode != "" && !ValidMode(mode) {
		return nil, ErrInvalidMode
	}
	return s.Store.ListSessions(ctx, status, mode, limit, offset)
}

// SetMode switches the session between AI and LIVE. Switching to the current
// mode is a no-op and posts no notice.
func (s *ChatService) SetMode(ctx context.Context, sessionID, mode string) (SendResult, error) {
	if !ValidMode(mode) {
		return SendResult{}, ErrInvalidMode
	}
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return SendResult{}, err
	}
	if sess.Status == models.SessionClosed {
		return SendResult{}, ErrSessionClosed
	}
	msgs, err := s.switchMode(ctx, &sess, mode)
	if msgs == nil {
		msgs = []models.Message{}
	}
	return SendResult{Session: sess, Messages: msgs}, err
}

// JoinSession assigns agentID to the session, forces live mode and activates
// the session. Rejoining as the current agent posts no new notice.
func (s *ChatService) JoinSession(ctx context.Context, sessionID, agentID string) (SendResult, error) {
	agent, err := s.Store.GetAgent(ctx, agentID)
	if err != nil {
		return SendResult{}, err
	}
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return SendResult{}, err
	}
	if sess.Status == models.SessionClosed {
		return SendResult{}, ErrSessionClosed
	}

	res := SendResult{Messages: []models.Message{}}
	if sess.AssignedAgentID == nil || *sess.AssignedAgentID != agent.ID {
		if err := s.assign(ctx, &sess, agent); err != nil {
			return SendResult{}, err
		}
		m, err := s.appendSystem(ctx, sess.ID, fmt.Sprintf(noticeAgentJoinedFmt, agent.Name))
		if err != nil {
			return SendResult{}, err
		}
		res.Messages = append(res.Messages, m)
	}

	changed, err := s.Store.UpdateSessionMode(ctx, sess.ID, models.ModeLive)
	if err != nil {
		return SendResult{}, err
	}
	if changed {
		sess.Mode = models.ModeLive
		s.publish(ctx, pubsub.SessionTopic(sess.ID), pubsub.EventModeChanged, sess)
	}
	if err := s.activate(ctx, &sess); err != nil {
		return SendResult{}, err
	}
	res.Session = sess
	return res, nil
}

// CloseSession posts the closing notice and closes the session in one store
// write. Closing an already closed session returns it unchanged.
func (s *ChatService) CloseSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	closed, notice, changed, err := s.Store.CloseSession(ctx, sessionID, models.Message{
		SenderType: models.SenderSystem,
		Content:    noticeChatEnded,
	})
	if err != nil {
		return models.ChatSession{}, err
	}
	if !changed {
		return closed, nil
	}
	s.publishMessage(ctx, notice)
	if closed.AssignedAgentID != nil {
		if err := s.Store.UpdateAgentLoad(ctx, *closed.AssignedAgentID, -1); err != nil {
			s.Logger.Warn().Err(err).Str("agent_id", *closed.AssignedAgentID).Msg("release agent load")
		}
	}
	s.publish(ctx, pubsub.SessionTopic(closed.ID), pubsub.EventSessionUpdated, closed)
	s.Logger.Info().Str("session_id", closed.ID).Msg("chat session closed")
	return closed, nil
}

func (s *ChatService) switchMode(ctx context.Context, sess *models.ChatSession, mode string) ([]models.Message, error) {
	changed, err := s.Store.UpdateSessionMode(ctx, sess.ID, mode)
	if err != nil || !changed {
		return nil, err
	}
	sess.Mode = mode
	s.publish(ctx, pubsub.SessionTopic(sess.ID), pubsub.EventModeChanged, sess)
	s.Logger.Info().Str("session_id", sess.ID).Str("mode", mode).Msg("chat mode changed")

	notice, err := s.appendSystem(ctx, sess.ID, modeNotice(mode))
	if err != nil {
		return nil, err
	}
	out := []models.Message{notice}
	if mode == models.ModeLive && sess.AssignedAgentID == nil {
		msgs, err := s.autoAssign(ctx, sess)
		out = append(out, msgs...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *ChatService) autoAssign(ctx context.Context, sess *models.ChatSession) ([]models.Message, error) {
	agents, err := s.Store.ListAgents(ctx, true)
	if err != nil {
		return nil, err
	}
	agent, top, ok := PickAgent(sess.ID, agents)
	if !ok {
		m, err := s.appendSystem(ctx, sess.ID, noticeNoAgents)
		if err != nil {
			return nil, err
		}
		return []models.Message{m}, nil
	}
	s.Logger.Debug().Str("session_id", sess.ID).Int("candidates", len(top)).Str("agent_id", agent.ID).Msg("agent picked")

	if err := s.assign(ctx, sess, agent); err != nil {
		return nil, err
	}
	m, err := s.appendSystem(ctx, sess.ID, fmt.Sprintf(noticeAgentAssignedFmt, agent.Name))
	if err != nil {
		return nil, err
	}
	return []models.Message{m}, nil
}

func (s *ChatService) assign(ctx context.Context, sess *models.ChatSession, agent models.Agent) error {
	if err := s.Store.AssignAgent(ctx, sess.ID, agent.ID); err != nil {
		return err
	}
	if sess.AssignedAgentID != nil {
		if err := s.Store.UpdateAgentLoad(ctx, *sess.AssignedAgentID, -1); err != nil {
			s.Logger.Warn().Err(err).Str("agent_id", *sess.AssignedAgentID).Msg("release agent load")
		}
	}
	if err := s.Store.UpdateAgentLoad(ctx, agent.ID, 1); err != nil {
		s.Logger.Warn().Err(err).Str("agent_id", agent.ID).Msg("bump agent load")
	}
	id := agent.ID
	sess.AssignedAgentID = &id
	s.publish(ctx, pubsub.SessionTopic(sess.ID), pubsub.EventSessionUpdated, sess)
	s.Logger.Info().Str("session_id", sess.ID).Str("agent_id", agent.ID).Msg("agent assigned")
	return nil
}

// assistantReply asks the responder for a reply to the session so far. When
// the responder fails the visitor gets a notice instead and the send succeeds.
func (s *ChatService) assistantReply(ctx context.Context, sess *models.ChatSession) ([]models.Message, error) {
	if s.Responder == nil {
		return nil, nil
	}
	history, err := s.Store.ListMessages(ctx, sess.ID, "")
	if err != nil {
		return nil, err
	}
	reply, err := s.Responder.Reply(ctx, history)
	if err != nil {
		s.Logger.Warn().Err(err).Str("session_id", sess.ID).Msg("assistant reply failed")
		m, err := s.appendSystem(ctx, sess.ID, noticeAssistantDown)
		if err != nil {
			return nil, err
		}
		return []models.Message{m}, nil
	}

	m, _, err := s.Store.AppendMessage(ctx, models.Message{
		SessionID:  sess.ID,
		SenderType: models.SenderAgent,
		SenderID:   optional(ai.AssistantSenderID),
		Content:    reply,
	})
	if err != nil {
		return nil, err
	}
	s.publishMessage(ctx, m)
	if err := s.activate(ctx, sess); err != nil {
		return []models.Message{m}, err
	}
	return []models.Message{m}, nil
}

func (s *ChatService) activate(ctx context.Context, sess *models.ChatSession) error {
	changed, err := s.Store.ActivateSession(ctx, sess.ID)
	if err != nil || !changed {
		return err
	}
	sess.Status = models.SessionActive
	s.publish(ctx, pubsub.SessionTopic(sess.ID), pubsub.EventSessionUpdated, sess)
	return nil
}

func (s *ChatService) appendSystem(ctx context.Context, sessionID, text string) (models.Message, error) {
	m, _, err := s.Store.AppendMessage(ctx, models.Message{
		SessionID:  sessionID,
		SenderType: models.SenderSystem,
		Content:    text,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.publishMessage(ctx, m)
	return m, nil
}

func (s *ChatService) checkRate(ctx context.Context, fingerprint string) error {
	if s.Limiter == nil {
		return nil
	}
	ok, err := s.Limiter.Allow(ctx, fingerprint)
	if err != nil {
		// fail open
		s.Logger.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

func (s *ChatService) publishMessage(ctx context.Context, m models.Message) {
	s.publish(ctx, pubsub.SessionTopic(m.SessionID), pubsub.EventMessageCreated, m)
}

func (s *ChatService) publish(ctx context.Context, topic, eventType string, payload any) {
	publish(ctx, s.Broker, s.Logger, topic, eventType, payload)
}

func publish(ctx context.Context, broker pubsub.Broker, logger zerolog.Logger, topic, eventType string, payload any) {
	if broker == nil {
		return
	}
	ev, err := pubsub.NewEvent(topic, eventType, payload)
	if err == nil {
		err = broker.Publish(ctx, ev)
	}
	if err != nil {
		logger.Warn().Err(err).Str("topic", topic).Str("type", eventType).Msg("publish event failed")
	}
}

func normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", ErrContentTooLong
	}
	return content, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/pubsub"
	"github.com/marketplace_support/backend/internal/service/servicetest"
)

func newChatService(store *servicetest.Store) (*ChatService, *stubResponder, *pubsub.MemoryBroker) {
	responder := &stubResponder{reply: "Happy to help."}
	broker := pubsub.NewMemoryBroker()
	return &ChatService{
		Store:     store,
		Responder: responder,
		Broker:    broker,
		Logger:    zerolog.Nop(),
	}, responder, broker
}

func countSender(msgs []models.Message, sender string) int {
	n := 0
	for _, m := range msgs {
		if m.SenderType == sender {
			n++
		}
	}
	return n
}

func TestStartChatSessionResumesOpenSession(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	svc, _, _ := newChatService(store)

	first, err := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp-1", Name: "Ann"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.Session.Status != models.SessionWaiting || first.Session.Mode != models.ModeAI {
		t.Fatalf("unexpected new session %+v", first.Session)
	}
	second, err := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: " fp-1 "})
	if err != nil {
		t.Fatalf("start again: %v", err)
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("expected the open session to be resumed")
	}
	if _, err := svc.StartChatSession(ctx, StartSessionInput{}); !errors.Is(err, ErrFingerprintRequired) {
		t.Fatalf("expected ErrFingerprintRequired, got %v", err)
	}
}

func TestSendChatMessageAIReply(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	svc, responder, _ := newChatService(store)

	res, err := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp", Message: "where is my order?", ClientID: "tmp-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected visitor message and reply, got %+v", res.Messages)
	}
	if res.Messages[0].SenderType != models.SenderVisitor || res.Messages[1].SenderType != models.SenderAgent {
		t.Fatalf("unexpected senders %+v", res.Messages)
	}
	if res.Messages[1].SenderID == nil || *res.Messages[1].SenderID != "assistant" {
		t.Fatalf("assistant reply should carry the assistant sender id")
	}
	if res.Session.Status != models.SessionActive {
		t.Fatalf("assistant reply should activate the session, got %s", res.Session.Status)
	}
	if responder.calls != 1 {
		t.Fatalf("expected one responder call, got %d", responder.calls)
	}
	if !res.Messages[1].CreatedAt.After(res.Messages[0].CreatedAt) {
		t.Fatalf("reply must be ordered after the visitor message")
	}
}

func TestSendChatMessageIdempotentOnClientID(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	svc, responder, _ := newChatService(store)
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})

	in := SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, ClientID: "tmp-7", Content: "hello"}
	first, err := svc.SendChatMessage(ctx, in)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	again, err := svc.SendChatMessage(ctx, in)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if !again.Duplicate || again.Messages[0].ID != first.Messages[0].ID || len(again.Messages) != 1 {
		t.Fatalf("expected replay to return the stored message only, got %+v", again)
	}
	msgs, _ := svc.GetChatMessages(ctx, start.Session.ID, "")
	if countSender(msgs, models.SenderVisitor) != 1 {
		t.Fatalf("expected a single visitor message, got %d", countSender(msgs, models.SenderVisitor))
	}
	if responder.calls != 1 {
		t.Fatalf("replay must not trigger another reply")
	}
}

func TestSendChatMessageValidation(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	svc, _, _ := newChatService(store)
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})

	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "   "}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	long := strings.Repeat("a", MaxMessageLength+1)
	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: long}); !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}
	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderSystem, Content: "x"}); !errors.Is(err, ErrInvalidSender) {
		t.Fatalf("expected ErrInvalidSender, got %v", err)
	}
	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: "missing", SenderType: models.SenderVisitor, Content: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLiveRequestSwitchesModeOnce(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	store.AddAgent(models.Agent{ID: "ag-1", Name: "Dana", IsOnline: true})
	svc, responder, _ := newChatService(store)
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})

	res, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "I need a human"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Session.Mode != models.ModeLive {
		t.Fatalf("expected LIVE mode, got %s", res.Session.Mode)
	}
	if responder.calls != 0 {
		t.Fatalf("live request must not be answered by the assistant")
	}
	if countSender(res.Messages, models.SenderSystem) != 2 {
		t.Fatalf("expected mode notice and assignment notice, got %+v", res.Messages)
	}
	if res.Session.AssignedAgentID == nil || *res.Session.AssignedAgentID != "ag-1" {
		t.Fatalf("expected ag-1 assigned")
	}
	if store.Agent("ag-1").CurrentLoad != 1 {
		t.Fatalf("expected agent load bumped, got %d", store.Agent("ag-1").CurrentLoad)
	}

	again, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "human please"})
	if err != nil {
		t.Fatalf("send again: %v", err)
	}
	if len(again.Messages) != 1 {
		t.Fatalf("repeated live request must not post another notice, got %+v", again.Messages)
	}
	if _, err := svc.SetMode(ctx, start.Session.ID, models.ModeLive); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	all, _ := svc.GetChatMessages(ctx, start.Session.ID, "")
	if countSender(all, models.SenderSystem) != 2 {
		t.Fatalf("expected exactly two system notices, got %d", countSender(all, models.SenderSystem))
	}
}

func TestLiveRequestWithoutAgents(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newChatService(servicetest.NewStore())
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})
	res, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "agent"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	last := res.Messages[len(res.Messages)-1]
	if last.Content != noticeNoAgents {
		t.Fatalf("expected busy notice, got %q", last.Content)
	}
}

func TestSetModeBackToAI(t *testing.T) {
	ctx := context.Background()
	svc, responder, _ := newChatService(servicetest.NewStore())
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})

	if _, err := svc.SetMode(ctx, start.Session.ID, "ROBOT"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	if _, err := svc.SetMode(ctx, start.Session.ID, models.ModeLive); err != nil {
		t.Fatalf("live: %v", err)
	}
	res, err := svc.SetMode(ctx, start.Session.ID, models.ModeAI)
	if err != nil {
		t.Fatalf("ai: %v", err)
	}
	if res.Session.Mode != models.ModeAI || len(res.Messages) != 1 || res.Messages[0].Content != noticeAIMode {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if responder.calls != 1 {
		t.Fatalf("assistant should answer again in AI mode")
	}
}

func TestAssistantFailurePostsNotice(t *testing.T) {
	ctx := context.Background()
	svc, responder, _ := newChatService(servicetest.NewStore())
	responder.err = errors.New("upstream down")
	res, err := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp", Message: "hello"})
	if err != nil {
		t.Fatalf("send should succeed when the assistant fails: %v", err)
	}
	if len(res.Messages) != 2 || res.Messages[1].SenderType != models.SenderSystem {
		t.Fatalf("expected system notice, got %+v", res.Messages)
	}
}

func TestVisitorRateLimit(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newChatService(servicetest.NewStore())
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})

	svc.Limiter = stubLimiter{allow: false}
	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "hi"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderAgent, Content: "hi"}); err != nil {
		t.Fatalf("agents are not rate limited: %v", err)
	}
	svc.Limiter = stubLimiter{err: errors.New("redis down")}
	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "hi"}); err != nil {
		t.Fatalf("limiter errors fail open: %v", err)
	}
}

func TestJoinAndCloseSession(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	store.AddAgent(models.Agent{ID: "ag-1", Name: "Dana", IsOnline: true})
	svc, _, broker := newChatService(store)
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})

	events, cancel, err := broker.Subscribe(ctx, pubsub.SessionTopic(start.Session.ID))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := svc.JoinSession(ctx, start.Session.ID, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown agent, got %v", err)
	}
	joined, err := svc.JoinSession(ctx, start.Session.ID, "ag-1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.Session.Status != models.SessionActive || joined.Session.Mode != models.ModeLive {
		t.Fatalf("join should activate and force live, got %+v", joined.Session)
	}
	rejoined, _ := svc.JoinSession(ctx, start.Session.ID, "ag-1")
	if len(rejoined.Messages) != 0 {
		t.Fatalf("rejoining must not post another notice")
	}

	select {
	case ev := <-events:
		if ev.Topic != pubsub.SessionTopic(start.Session.ID) {
			t.Fatalf("unexpected topic %s", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected session events on join")
	}

	closed, err := svc.CloseSession(ctx, start.Session.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.SessionClosed {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}
	if store.Agent("ag-1").CurrentLoad != 0 {
		t.Fatalf("closing should release the agent, load=%d", store.Agent("ag-1").CurrentLoad)
	}
	if _, err := svc.CloseSession(ctx, start.Session.ID); err != nil {
		t.Fatalf("closing twice should be a no-op: %v", err)
	}
	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "hi"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}

	next, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})
	if next.Session.ID == start.Session.ID {
		t.Fatalf("a closed session must not be resumed")
	}
}

func TestMarkMessagesAsRead(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newChatService(servicetest.NewStore())
	res, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp", Message: "hello"})

	n, err := svc.MarkMessagesAsRead(ctx, res.Session.ID, models.SenderVisitor)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 1 {
		t.Fatalf("visitor should read the assistant reply only, got %d", n)
	}
	n, _ = svc.MarkMessagesAsRead(ctx, res.Session.ID, models.SenderAgent)
	if n != 1 {
		t.Fatalf("agent should read the visitor message, got %d", n)
	}
	n, _ = svc.MarkMessagesAsRead(ctx, res.Session.ID, models.SenderVisitor)
	if n != 0 {
		t.Fatalf("marking twice should be a no-op, got %d", n)
	}
	if _, err := svc.MarkMessagesAsRead(ctx, res.Session.ID, "ROBOT"); !errors.Is(err, ErrInvalidSender) {
		t.Fatalf("expected ErrInvalidSender, got %v", err)
	}
}

func TestSendRejectedWhenSessionClosesBeforeWrite(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	sess, _ := store.CreateSession(ctx, models.ChatSession{VisitorFingerprint: "fp"})
	svc, responder, _ := newChatService(store)
	svc.Store = &closeOnReadStore{Store: store}

	if _, err := svc.SendChatMessage(ctx, SendInput{SessionID: sess.ID, SenderType: models.SenderVisitor, Content: "hello"}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	msgs, _ := store.ListMessages(ctx, sess.ID, "")
	if len(msgs) != 1 || msgs[0].Content != noticeChatEnded {
		t.Fatalf("only the closing notice may be stored, got %+v", msgs)
	}
	if responder.calls != 0 {
		t.Fatalf("assistant must not run for a rejected message")
	}
}

func TestAssistantReplyDroppedWhenSessionClosesDuringSend(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	svc, responder, _ := newChatService(store)
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})
	responder.before = func() {
		if _, err := svc.CloseSession(ctx, start.Session.ID); err != nil {
			t.Errorf("close: %v", err)
		}
	}

	res, err := svc.SendChatMessage(ctx, SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, Content: "hello"})
	if err != nil {
		t.Fatalf("the stored message should stand: %v", err)
	}
	if len(res.Messages) != 1 || res.Session.Status != models.SessionClosed {
		t.Fatalf("expected only the visitor message on a closed session, got %+v", res)
	}
	msgs, _ := store.ListMessages(ctx, start.Session.ID, "")
	if len(msgs) != 2 || msgs[1].Content != noticeChatEnded {
		t.Fatalf("expected visitor message then closing notice, got %+v", msgs)
	}
}

func TestConcurrentCloseSessionPostsOneNotice(t *testing.T) {
	ctx := context.Background()
	store := servicetest.NewStore()
	svc, _, _ := newChatService(store)
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CloseSession(ctx, start.Session.ID); err != nil {
				t.Errorf("close: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs, _ := store.ListMessages(ctx, start.Session.ID, "")
	if n := countSender(msgs, models.SenderSystem); n != 1 {
		t.Fatalf("expected one closing notice, got %d", n)
	}
}

func TestReplayedClientIDSkipsRateLimit(t *testing.T) {
	ctx := context.Background()
	svc, responder, _ := newChatService(servicetest.NewStore())
	start, _ := svc.StartChatSession(ctx, StartSessionInput{Fingerprint: "fp"})
	in := SendInput{SessionID: start.Session.ID, SenderType: models.SenderVisitor, ClientID: "c1", Content: "hi"}

	svc.Limiter = stubLimiter{allow: true}
	first, err := svc.SendChatMessage(ctx, in)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	svc.Limiter = stubLimiter{allow: false}
	again, err := svc.SendChatMessage(ctx, in)
	if err != nil {
		t.Fatalf("replay must return the stored message, got %v", err)
	}
	if !again.Duplicate || again.Messages[0].ID != first.Messages[0].ID {
		t.Fatalf("expected the stored message back, got %+v", again)
	}
	if responder.calls != 1 {
		t.Fatalf("replay must not trigger another reply, calls=%d", responder.calls)
	}

	in.ClientID = "c2"
	if _, err := svc.SendChatMessage(ctx, in); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("new messages are still limited, got %v", err)
	}

	if _, err := svc.CloseSession(ctx, start.Session.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	in.ClientID = "c1"
	if res, err := svc.SendChatMessage(ctx, in); err != nil || !res.Duplicate {
		t.Fatalf("replay after close should still dedupe, got %+v %v", res, err)
	}
}

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/marketplace_support/backend/internal/ai"
	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/pubsub"
	"github.com/marketplace_support/backend/internal/service"
	"github.com/marketplace_support/backend/internal/service/servicetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*gin.Engine, *servicetest.Store, *pubsub.MemoryBroker) {
	t.Helper()
	store := servicetest.NewStore()
	broker := pubsub.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	convs := &service.ConversationService{Store: store, Broker: broker, Logger: zerolog.Nop()}
	h := &Handler{
		Store:         store,
		Chat:          &service.ChatService{Store: store, Responder: ai.MockResponder{}, Broker: broker, Logger: zerolog.Nop()},
		Conversations: convs,
		Disputes:      &service.DisputeService{Store: store, Conversations: convs, Broker: broker, Logger: zerolog.Nop()},
		Broker:        broker,
		Validator:     validator.New(),
		Logger:        zerolog.Nop(),
		PollInterval:  3 * time.Second,
	}

	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.POST("/api/chat/sessions", h.StartSession)
	r.GET("/api/chat/sessions", h.VisitorSessions)
	r.GET("/api/chat/sessions/:id/messages", h.SessionMessages)
	r.POST("/api/chat/sessions/:id/messages", h.SendVisitorMessage)
	r.POST("/api/chat/sessions/:id/mode", h.SetMode)
	r.GET("/api/chat/sessions/:id/ws", h.SessionStream)
	r.POST("/api/admin/chat/sessions/:id/join", h.JoinSession)
	r.POST("/api/admin/chat/sessions/:id/close", h.CloseSession)
	r.PUT("/api/admin/agents/:id", h.PutAgent)
	r.GET("/api/conversations", h.ConversationsList)
	r.POST("/api/conversations", h.StartConversation)
	r.POST("/api/conversations/:id/open", h.OpenConversation)
	r.POST("/api/conversations/:id/messages", h.SendConversationMessage)
	r.POST("/api/disputes", h.OpenDispute)
	r.POST("/api/admin/disputes/:id/resolve", h.ResolveDispute)
	r.GET("/api/admin/disputes/:id/split", h.PreviewSplit)
	return r, store, broker
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, w, &env)
	return env.Error.Code
}

func startSession(t *testing.T, r http.Handler) service.SendResult {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/chat/sessions", StartSessionRequest{Fingerprint: "fp-1", Name: "Ann"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start session: %d %s", w.Code, w.Body.String())
	}
	var res service.SendResult
	decode(t, w, &res)
	return res
}

func TestStartSessionValidation(t *testing.T) {
	r, _, _ := newTestServer(t)
	w := do(t, r, http.MethodPost, "/api/chat/sessions", StartSessionRequest{}, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/api/chat/sessions", StartSessionRequest{Fingerprint: "fp", Email: "not-an-email"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad email, got %d", w.Code)
	}
}

func TestVisitorMessageFlow(t *testing.T) {
	r, _, _ := newTestServer(t)
	sess := startSession(t, r).Session

	path := "/api/chat/sessions/" + sess.ID + "/messages"
	w := do(t, r, http.MethodPost, path, SendMessageRequest{Content: "where is my refund?", ClientID: "tmp-1"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	var sent service.SendResult
	decode(t, w, &sent)
	if len(sent.Messages) != 2 || sent.Messages[1].SenderType != models.SenderAgent {
		t.Fatalf("expected visitor message and assistant reply, got %+v", sent.Messages)
	}

	w = do(t, r, http.MethodPost, path, SendMessageRequest{Content: "where is my refund?", ClientID: "tmp-1"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("replay should return 200, got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, path+"?after="+sent.Messages[0].ID, nil, nil)
	var page struct {
		Items          []models.Message `json:"items"`
		PollIntervalMS int64            `json:"poll_interval_ms"`
	}
	decode(t, w, &page)
	if len(page.Items) != 1 || page.Items[0].ID != sent.Messages[1].ID {
		t.Fatalf("expected only the reply after the visitor message, got %+v", page.Items)
	}
	if page.PollIntervalMS != 3000 {
		t.Fatalf("unexpected poll interval %d", page.PollIntervalMS)
	}

	w = do(t, r, http.MethodGet, "/api/chat/sessions/missing/messages", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestModeSwitchAndClose(t *testing.T) {
	r, _, _ := newTestServer(t)
	sess := startSession(t, r).Session

	w := do(t, r, http.MethodPost, "/api/chat/sessions/"+sess.ID+"/mode", ModeRequest{Mode: "ROBOT"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/api/chat/sessions/"+sess.ID+"/mode", ModeRequest{Mode: models.ModeLive}, nil)
	var res service.SendResult
	decode(t, w, &res)
	if res.Session.Mode != models.ModeLive {
		t.Fatalf("expected LIVE, got %s", res.Session.Mode)
	}

	w = do(t, r, http.MethodPost, "/api/admin/chat/sessions/"+sess.ID+"/close", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/api/chat/sessions/"+sess.ID+"/messages", SendMessageRequest{Content: "hello?"}, nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "SESSION_CLOSED" {
		t.Fatalf("expected 409 SESSION_CLOSED, got %d %s", w.Code, w.Body.String())
	}
}

func TestAgentJoin(t *testing.T) {
	r, _, _ := newTestServer(t)
	sess := startSession(t, r).Session

	w := do(t, r, http.MethodPut, "/api/admin/agents/ag-1", AgentRequest{Name: "Dana", IsOnline: true}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("put agent: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/api/admin/chat/sessions/"+sess.ID+"/join", nil, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("expected 400 without %s, got %d %s", AgentIDHeader, w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/api/admin/chat/sessions/"+sess.ID+"/join", nil, map[string]string{AgentIDHeader: "ag-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("join: %d %s", w.Code, w.Body.String())
	}
	var res service.SendResult
	decode(t, w, &res)
	if res.Session.Status != models.SessionActive || res.Session.AssignedAgentID == nil {
		t.Fatalf("unexpected session after join %+v", res.Session)
	}
}

func TestConversationsRequirePartyHeaders(t *testing.T) {
	r, _, _ := newTestServer(t)
	w := do(t, r, http.MethodGet, "/api/conversations", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without headers, got %d", w.Code)
	}

	customer := map[string]string{PartyRoleHeader: "customer", PartyIDHeader: "cu-1"}
	vendor := map[string]string{PartyRoleHeader: "VENDOR", PartyIDHeader: "ve-1"}

	w = do(t, r, http.MethodPost, "/api/conversations", StartConversationRequest{CustomerID: "cu-2", VendorID: "ve-1"}, customer)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another customer, got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/api/conversations", StartConversationRequest{CustomerID: "cu-1", VendorID: "ve-1"}, customer)
	var conv models.Conversation
	decode(t, w, &conv)

	w = do(t, r, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", ConversationMessageRequest{Content: "hi"}, customer)
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/conversations", nil, vendor)
	var inbox struct {
		Items []service.ConversationView `json:"items"`
	}
	decode(t, w, &inbox)
	if len(inbox.Items) != 1 || inbox.Items[0].UnreadCount != 1 {
		t.Fatalf("unexpected vendor inbox %+v", inbox.Items)
	}

	w = do(t, r, http.MethodPost, "/api/conversations/"+conv.ID+"/open", nil, vendor)
	if w.Code != http.StatusOK {
		t.Fatalf("open: %d", w.Code)
	}
	w = do(t, r, http.MethodGet, "/api/conversations", nil, vendor)
	decode(t, w, &inbox)
	if inbox.Items[0].UnreadCount != 0 {
		t.Fatalf("expected unread reset, got %d", inbox.Items[0].UnreadCount)
	}
}

func TestDisputeResolution(t *testing.T) {
	r, _, _ := newTestServer(t)
	customer := map[string]string{PartyRoleHeader: "CUSTOMER", PartyIDHeader: "cu-1"}

	body := `{"order_id":"ord-1","vendor_id":"ve-1","order_amount":"200.00","reason":"arrived broken"}`
	req := httptest.NewRequest(http.MethodPost, "/api/disputes", strings.NewReader(body))
	for k, v := range customer {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("open dispute: %d %s", w.Code, w.Body.String())
	}
	var d models.Dispute
	decode(t, w, &d)

	w = do(t, r, http.MethodGet, "/api/admin/disputes/"+d.ID+"/split?pct=30", nil, nil)
	var split struct {
		BuyerAmount  models.Money `json:"buyer_amount"`
		SellerAmount models.Money `json:"seller_amount"`
	}
	decode(t, w, &split)
	if split.BuyerAmount.String() != "60.00" || split.SellerAmount.String() != "140.00" {
		t.Fatalf("unexpected preview %+v", split)
	}

	pct := 30
	w = do(t, r, http.MethodPost, "/api/admin/disputes/"+d.ID+"/resolve", ResolveDisputeRequest{BuyerPercentage: &pct, Resolution: "Partial refund"}, map[string]string{AgentIDHeader: "ad-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &d)
	if d.Status != models.DisputeResolved || d.BuyerAmount.String() != "60.00" {
		t.Fatalf("unexpected dispute %+v", d)
	}

	w = do(t, r, http.MethodPost, "/api/admin/disputes/"+d.ID+"/resolve", ResolveDisputeRequest{BuyerPercentage: &pct, Resolution: "again"}, nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "ALREADY_RESOLVED" {
		t.Fatalf("expected 409 ALREADY_RESOLVED, got %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/api/admin/disputes/"+d.ID+"/resolve", map[string]any{"resolution": "x"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("buyer_percentage is required, got %d", w.Code)
	}
}

func TestSessionStreamDeliversMessages(t *testing.T) {
	r, _, broker := newTestServer(t)
	srv := httptest.NewServer(r)
	defer srv.Close()
	sess := startSession(t, r).Session

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/sessions/" + sess.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	topic := pubsub.SessionTopic(sess.ID)
	deadline := time.Now().Add(5 * time.Second)
	for broker.Subscribers(topic) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w := do(t, r, http.MethodPost, "/api/chat/sessions/"+sess.ID+"/messages", SendMessageRequest{Content: "ping"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d", w.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev pubsub.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Topic != topic || ev.Type != pubsub.EventMessageCreated {
		t.Fatalf("unexpected event %s %s", ev.Topic, ev.Type)
	}
	var msg models.Message
	if err := json.Unmarshal(ev.Payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.Content != "ping" {
		t.Fatalf("expected the visitor message first, got %q", msg.Content)
	}
}

// Package chatclient is a Go client for the marketplace support API: visitor
// chat with optimistic sends and polling, and the customer/vendor inbox.
package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/marketplace_support/backend/internal/models"
)

type Client struct {
	http *resty.Client
}

type Option func(*resty.Client)

// WithParty identifies the caller on the conversation endpoints.
func WithParty(role, id string) Option {
	return func(r *resty.Client) {
		r.SetHeader("X-Party-Role", role).SetHeader("X-Party-Id", id)
	}
}

func WithAdminKey(key string) Option {
	return func(r *resty.Client) { r.SetHeader("X-Admin-Key", key) }
}

func WithTimeout(d time.Duration) Option {
	return func(r *resty.Client) { r.SetTimeout(d) }
}

func New(baseURL string, opts ...Option) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(10 * time.Second)
	for _, opt := range opts {
		opt(r)
	}
	return &Client{http: r}
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type SendResult struct {
	Session   models.ChatSession `json:"session"`
	Messages  []models.Message   `json:"messages"`
	Duplicate bool               `json:"duplicate"`
}

type ConversationView struct {
	models.Conversation
	UnreadCount int `json:"unread_count"`
}

type Thread struct {
	Conversation models.Conversation         `json:"conversation"`
	Messages     []models.ConversationMessage `json:"messages"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	req := c.http.R().SetContext(ctx).SetError(&errorEnvelope{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Message: resp.Status()}
		if env, ok := resp.Error().(*errorEnvelope); ok && env.Error.Code != "" {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	return nil
}

func (c *Client) StartSession(ctx context.Context, fingerprint, name, email string) (SendResult, error) {
	var res SendResult
	err := c.do(ctx, http.MethodPost, "/api/chat/sessions", map[string]string{
		"fingerprint": fingerprint,
		"name":        name,
		"email":       email,
	}, &res)
	return res, err
}

// Messages lists the session's messages, all of them when afterID is empty.
func (c *Client) Messages(ctx context.Context, sessionID, afterID string) ([]models.Message, error) {
	var page struct {
		Items []models.Message `json:"items"`
	}
	path := "/api/chat/sessions/" + sessionID + "/messages"
	if afterID != "" {
		path += "?after=" + afterID
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) Send(ctx context.Context, sessionID, clientID, content string) (SendResult, error) {
	var res SendResult
	err := c.do(ctx, http.MethodPost, "/api/chat/sessions/"+sessionID+"/messages", map[string]string{
		"content":   content,
		"client_id": clientID,
	}, &res)
	return res, err
}

func (c *Client) MarkRead(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/chat/sessions/"+sessionID+"/read", nil, nil)
}

func (c *Client) SetMode(ctx context.Context, sessionID, mode string) (SendResult, error) {
	var res SendResult
	err := c.do(ctx, http.MethodPost, "/api/chat/sessions/"+sessionID+"/mode", map[string]string{"mode": mode}, &res)
	return res, err
}

func (c *Client) Conversations(ctx context.Context) ([]ConversationView, error) {
	var page struct {
		Items []ConversationView `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) StartConversation(ctx context.Context, customerID, vendorID string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations", map[string]string{
		"customer_id": customerID,
		"vendor_id":   vendorID,
	}, &conv)
	return conv, err
}

func (c *Client) OpenConversation(ctx context.Context, id string) (Thread, error) {
	var t Thread
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+id+"/open", nil, &t)
	return t, err
}

func (c *Client) SendConversationMessage(ctx context.Context, id, content string) (models.ConversationMessage, error) {
	var res struct {
		Message models.ConversationMessage `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+id+"/messages", map[string]string{"content": content}, &res)
	return res.Message, err
}

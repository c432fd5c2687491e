package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"

	"github.com/marketplace_support/backend/internal/models"
)

const systemPrompt = "You are the support assistant of an online marketplace. Answer questions about orders, shipping, returns, refunds and disputes briefly and politely. If the customer needs a human, tell them to type \"human\"."

// historyWindow bounds how many trailing messages are sent as context.
const historyWindow = 12

type OpenAICompatResponder struct {
	BaseURL   string
	Model     string
	MaxTokens int

	client *resty.Client
	cache  *cache.Cache
}

func NewOpenAICompatResponder(baseURL, model, apiKey string, maxTokens int) *OpenAICompatResponder {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(45 * time.Second)
	if strings.TrimSpace(apiKey) != "" {
		client.SetAuthToken(apiKey)
	}
	return &OpenAICompatResponder{
		BaseURL:   baseURL,
		Model:     model,
		MaxTokens: maxTokens,
		client:    client,
		cache:     cache.New(60*time.Second, 5*time.Minute),
	}
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (a *OpenAICompatResponder) Reply(ctx context.Context, history []models.Message) (string, error) {
	if strings.TrimSpace(a.BaseURL) == "" {
		return "", fmt.Errorf("AI_URL is not set")
	}
	if strings.TrimSpace(a.Model) == "" {
		return "", fmt.Errorf("AI_MODEL is not set")
	}

	messages := buildPrompt(history)
	key := cacheKey(messages)
	if v, ok := a.cache.Get(key); ok {
		return v.(string), nil
	}

	resp, err := a.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetBody(completionRequest{Model: a.Model, MaxTokens: a.MaxTokens, Messages: messages}).
		SetResult(&completionResponse{}).
		SetError(&errorResponse{}).
		Post("/chat/completions")
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", fmt.Errorf("assistant request timed out")
		}
		return "", fmt.Errorf("assistant request failed: %w", err)
	}

	if resp.IsError() {
		if resp.StatusCode() == http.StatusTooManyRequests {
			if d, err := time.ParseDuration(resp.Header().Get("Retry-After") + "s"); err == nil {
				return "", RateLimitError{RetryAfter: d}
			}
			return "", RateLimitError{}
		}
		msg := resp.String()
		if e, ok := resp.Error().(*errorResponse); ok && e.Error.Message != "" {
			msg = e.Error.Message
		}
		return "", fmt.Errorf("assistant http error: %s: %s", resp.Status(), msg)
	}

	res := resp.Result().(*completionResponse)
	if len(res.Choices) == 0 || strings.TrimSpace(res.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty assistant response")
	}
	answer := strings.TrimSpace(res.Choices[0].Message.Content)
	a.cache.SetDefault(key, answer)
	return answer, nil
}

// buildPrompt maps the tail of the session onto chat-completion roles.
// System notices are not part of the dialogue and are skipped.
func buildPrompt(history []models.Message) []chatMessage {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	out := []chatMessage{{Role: "system", Content: systemPrompt}}
	for _, m := range history {
		switch m.SenderType {
		case models.SenderVisitor:
			out = append(out, chatMessage{Role: "user", Content: m.Content})
		case models.SenderAgent, models.SenderAdmin:
			out = append(out, chatMessage{Role: "assistant", Content: m.Content})
		}
	}
	return out
}

func cacheKey(messages []chatMessage) string {
	var sb strings.Builder
	for _, m := range messages[1:] {
		sb.WriteString(m.Role)
		sb.WriteByte(':')
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

package service

import (
	"context"
	"sync"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/service/servicetest"
)

type stubResponder struct {
	reply  string
	err    error
	calls  int
	before func()
}

func (r *stubResponder) Reply(context.Context, []models.Message) (string, error) {
	r.calls++
	if r.before != nil {
		r.before()
	}
	return r.reply, r.err
}

type stubLimiter struct {
	allow bool
	err   error
}

func (l stubLimiter) Allow(context.Context, string) (bool, error) { return l.allow, l.err }

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	body []any
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.body = append(p.body, payload)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// closeOnReadStore closes the session right after the first GetSession, the
// way an admin close lands between a send's checks and its write.
type closeOnReadStore struct {
	*servicetest.Store
	once sync.Once
}

func (s *closeOnReadStore) GetSession(ctx context.Context, id string) (models.ChatSession, error) {
	sess, err := s.Store.GetSession(ctx, id)
	s.once.Do(func() {
		_, _, _, _ = s.Store.CloseSession(ctx, id, models.Message{SenderType: models.SenderSystem, Content: noticeChatEnded})
	})
	return sess, err
}

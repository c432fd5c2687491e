package chatclient

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/marketplace_support/backend/internal/models"
)

type State int

const (
	Pending State = iota
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Entry is one line of the local timeline. Pending and Failed entries hold
// the typed text in Message.Content; Confirmed entries hold the server copy.
type Entry struct {
	ClientID string
	State    State
	Message  models.Message
	Err      error
}

// Timeline is the visitor's local view of a session. The server list is
// authoritative: Replace overwrites every confirmed entry and keeps only the
// local sends the server has not seen yet.
type Timeline struct {
	Client    *Client
	SessionID string

	mu      sync.Mutex
	entries []Entry
}

func NewTimeline(client *Client, sessionID string) *Timeline {
	return &Timeline{Client: client, SessionID: sessionID}
}

// Send shows content as pending, posts it and confirms it with the server
// echo. On failure the entry is marked Failed and content is returned so the
// caller can put it back into the input.
func (t *Timeline) Send(ctx context.Context, content string) (string, error) {
	clientID := uuid.NewString()
	t.mu.Lock()
	t.entries = append(t.entries, Entry{
		ClientID: clientID,
		State:    Pending,
		Message:  models.Message{SessionID: t.SessionID, SenderType: models.SenderVisitor, Content: content},
	})
	t.mu.Unlock()
	return t.deliver(ctx, clientID, content)
}

// Retry resends a failed entry under its original client id, so a send that
// did reach the server is not stored twice.
func (t *Timeline) Retry(ctx context.Context, clientID string) (string, error) {
	t.mu.Lock()
	i := t.indexOf(clientID)
	if i < 0 || t.entries[i].State != Failed {
		t.mu.Unlock()
		return "", errors.New("no failed message with that client id")
	}
	t.entries[i].State, t.entries[i].Err = Pending, nil
	content := t.entries[i].Message.Content
	t.mu.Unlock()
	return t.deliver(ctx, clientID, content)
}

// Discard drops a failed or pending entry.
func (t *Timeline) Discard(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexOf(clientID); i >= 0 && t.entries[i].State != Confirmed {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
}

func (t *Timeline) deliver(ctx context.Context, clientID, content string) (string, error) {
	res, err := t.Client.Send(ctx, t.SessionID, clientID, content)

	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(clientID)
	if err != nil {
		if i >= 0 {
			t.entries[i].State, t.entries[i].Err = Failed, err
		}
		return content, err
	}
	if i >= 0 {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
	t.merge(res.Messages)
	return "", nil
}

// Replace applies a full server listing.
func (t *Timeline) Replace(server []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(server))
	next := make([]Entry, 0, len(server)+len(t.entries))
	for _, m := range server {
		if m.ClientID != nil {
			seen[*m.ClientID] = true
		}
		next = append(next, confirmed(m))
	}
	for _, e := range t.entries {
		if e.State != Confirmed && !seen[e.ClientID] {
			next = append(next, e)
		}
	}
	t.entries = next
}

func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// merge inserts confirmed messages after the last confirmed entry, ahead of
// any local sends still in flight, skipping ids already present.
func (t *Timeline) merge(msgs []models.Message) {
	have := map[string]bool{}
	split := 0
	for i, e := range t.entries {
		if e.State == Confirmed {
			have[e.Message.ID] = true
			split = i + 1
		}
	}
	var add []Entry
	for _, m := range msgs {
		if !have[m.ID] {
			have[m.ID] = true
			add = append(add, confirmed(m))
		}
	}
	if len(add) == 0 {
		return
	}
	rest := append([]Entry(nil), t.entries[split:]...)
	t.entries = append(append(t.entries[:split], add...), rest...)
}

func (t *Timeline) indexOf(clientID string) int {
	for i, e := range t.entries {
		if e.ClientID == clientID && e.State != Confirmed {
			return i
		}
	}
	return -1
}

func confirmed(m models.Message) Entry {
	e := Entry{State: Confirmed, Message: m}
	if m.ClientID != nil {
		e.ClientID = *m.ClientID
	}
	return e
}

package chatclient

import (
	"context"
	"sync"
)

// Inbox is a customer's or vendor's conversation list. Open clears the local
// unread badge before the server confirms; Refresh brings the list back in
// line with the server.
type Inbox struct {
	Client *Client

	mu    sync.Mutex
	items []ConversationView
}

func (i *Inbox) Refresh(ctx context.Context) error {
	items, err := i.Client.Conversations(ctx)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.items = items
	i.mu.Unlock()
	return nil
}

func (i *Inbox) Items() []ConversationView {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]ConversationView(nil), i.items...)
}

// Unread is the total unread count across conversations.
func (i *Inbox) Unread() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, c := range i.items {
		n += c.UnreadCount
	}
	return n
}

func (i *Inbox) Open(ctx context.Context, id string) (Thread, error) {
	i.mu.Lock()
	for k := range i.items {
		if i.items[k].ID == id {
			i.items[k].UnreadCount = 0
		}
	}
	i.mu.Unlock()
	return i.Client.OpenConversation(ctx, id)
}

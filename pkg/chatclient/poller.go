package chatclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marketplace_support/backend/internal/models"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxBackoff   = 30 * time.Second
)

// Poller fetches the full message list of a session on an interval and hands
// it to OnUpdate. Failed polls back off exponentially up to MaxBackoff and
// the interval resets after the next success.
type Poller struct {
	Client     *Client
	SessionID  string
	Interval   time.Duration
	MaxBackoff time.Duration
	OnUpdate   func([]models.Message)
	OnError    func(error)
}

// Run polls until ctx is done. The first poll happens immediately. Requests
// share ctx, so nothing is delivered to OnUpdate after cancellation.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		msgs, err := p.Client.Messages(ctx, p.SessionID, "")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := interval
		if err != nil {
			if p.OnError != nil {
				p.OnError(err)
			}
			wait = bo.NextBackOff()
		} else {
			bo.Reset()
			if p.OnUpdate != nil {
				p.OnUpdate(msgs)
			}
		}
		timer.Reset(wait)
	}
}

// Start runs the poller in the background. The returned stop cancels it and
// waits for the loop to exit.
func (p *Poller) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

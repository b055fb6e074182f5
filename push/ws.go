package push

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSSource is the websocket flavor of the push stream, for backends that
// broadcast over a socket hub instead of SSE.
type WSSource struct {
	url    string
	events chan Event
	cancel context.CancelFunc
	policy *backoff.ExponentialBackOff
}

// NewWSSource connects to ws(s)://.../ws?project_id=N.
func NewWSSource(wsURL string, projectID int64) *WSSource {
	return newWSSource(fmt.Sprintf("%s/ws?project_id=%d", wsURL, projectID), reconnectPolicy())
}

func newWSSource(url string, policy *backoff.ExponentialBackOff) *WSSource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &WSSource{
		url:    url,
		events: make(chan Event, 16),
		cancel: cancel,
		policy: policy,
	}
	go s.run(ctx)
	return s
}

func (s *WSSource) Events() <-chan Event { return s.events }

func (s *WSSource) Close() error {
	s.cancel()
	return nil
}

func (s *WSSource) run(ctx context.Context) {
	defer close(s.events)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Debug("push: websocket closed, reconnecting")
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.policy.NextBackOff()):
		}
	}
}

func (s *WSSource) readLoop(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	// Same rule as the SSE source: an established connection restarts the
	// reconnect schedule.
	s.policy.Reset()
	logrus.WithField("url", s.url).Debug("push: websocket connected")

	// Unblock ReadMessage when the source is closed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, ok := decode(raw)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

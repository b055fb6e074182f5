package push

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// SSESource consumes the backend's text/event-stream endpoint, scoped to a
// project. The browser original relies on EventSource's built-in reconnect;
// here an exponential backoff takes that role, reset whenever a connection
// is established.
type SSESource struct {
	url    string
	events chan Event
	cancel context.CancelFunc
	http   *http.Client
	policy *backoff.ExponentialBackOff
}

func NewSSESource(baseURL string, projectID int64) *SSESource {
	return newSSESource(fmt.Sprintf("%s/api/sse?project_id=%d", baseURL, projectID), reconnectPolicy())
}

func reconnectPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry forever until closed
	return policy
}

func newSSESource(url string, policy *backoff.ExponentialBackOff) *SSESource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SSESource{
		url:    url,
		events: make(chan Event, 16),
		cancel: cancel,
		// No client timeout; the stream is meant to stay open.
		http:   &http.Client{},
		policy: policy,
	}
	go s.run(ctx)
	return s
}

func (s *SSESource) Events() <-chan Event { return s.events }

func (s *SSESource) Close() error {
	s.cancel()
	return nil
}

func (s *SSESource) run(ctx context.Context) {
	defer close(s.events)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.stream(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Debug("push: sse stream ended, reconnecting")
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

func (s *SSESource) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse: HTTP %d", resp.StatusCode)
	}
	// A fresh connection starts the reconnect schedule over; hours of
	// healthy streaming must not inherit the delay of long-gone blips.
	s.policy.Reset()
	logrus.WithField("url", s.url).Debug("push: sse connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Blank line terminates one event.
			if payload := data.String(); payload != "" {
				if ev, ok := decode([]byte(payload)); ok {
					select {
					case s.events <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			data.Reset()
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:/id:/retry:/comment lines carry nothing we use.
		}
	}
	return scanner.Err()
}

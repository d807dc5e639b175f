package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Feed subscribes to an upstream server-sent event stream of controller
// messages. The event name is the message type when the data omits it.
//
//	event: play
//	data: {"preset": "nod", "fade": 0.2}
type Feed struct {
	url      string
	dispatch Dispatcher
	logger   zerolog.Logger
	client   *http.Client

	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewFeed(url string, d Dispatcher, logger zerolog.Logger) *Feed {
	return &Feed{
		url:      url,
		dispatch: d,
		logger:   logger.With().Str("component", "control-feed").Logger(),
		client: &http.Client{
			Timeout: 0, // streams stay open
		},
	}
}

// Connect starts the reconnecting subscription in the background.
func (f *Feed) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.connectLoop(ctx)
}

// Disconnect stops the subscription and waits for it to wind down.
func (f *Feed) Disconnect() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
	f.setConnected(false)
}

func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *Feed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *Feed) connectLoop(ctx context.Context) {
	defer close(f.done)

	const (
		minBackoff = time.Second
		maxBackoff = 60 * time.Second
	)
	backoff := minBackoff
	failures := 0

	for {
		err := f.stream(ctx)
		f.setConnected(false)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			backoff = minBackoff
			failures = 0
		} else {
			failures++
			if failures == 3 {
				f.logger.Warn().Err(err).Int("failures", failures).Msg("Control feed unavailable, retrying less often")
			} else if failures < 3 {
				f.logger.Warn().Err(err).Msg("Control feed connection failed, reconnecting")
			} else {
				f.logger.Debug().Err(err).Int("failures", failures).Msg("Control feed still unavailable")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err != nil {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

func (f *Feed) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		return fmt.Errorf("unexpected content-type: %s", ct)
	}

	f.setConnected(true)
	f.logger.Info().Str("url", f.url).Msg("Control feed connected")

	scanner := bufio.NewScanner(resp.Body)
	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && len(data) > 0:
			f.handleEvent(event, strings.Join(data, "\n"))
			event = ""
			data = nil
		}
	}
	return scanner.Err()
}

func (f *Feed) handleEvent(event, data string) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		f.logger.Warn().Err(err).Str("event", event).Msg("Failed to parse feed event")
		return
	}
	if msg.Type == "" {
		msg.Type = event
	}
	if err := f.dispatch.Dispatch(msg); err != nil {
		f.logger.Warn().Err(err).Str("type", msg.Type).Msg("Feed message rejected")
	}
}

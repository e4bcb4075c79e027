// Package feed subscribes to the backend's attendance WebSocket and hands
// pushed events to the queue. Missed events during a gap are not replayed;
// the reconciler's next stats poll resynchronizes, so reconnection here only
// needs to be persistent, not lossless.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"faceconsole/internal/queue"
)

// envelope is the wire frame the backend pushes.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	pingInterval     = 30 * time.Second
	readWait         = 75 * time.Second
	maxReconnectWait = 30 * time.Second
)

// Subscriber maintains one upstream subscription.
type Subscriber struct {
	URL      string
	Queue    queue.Queue
	OnResync func() // called after every (re)connect so polling can fill gaps

	Dialer *websocket.Dialer
}

// New creates a subscriber publishing into q.
func New(url string, q queue.Queue) *Subscriber {
	return &Subscriber{
		URL:    url,
		Queue:  q,
		Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run dials and reads until ctx is cancelled, reconnecting with capped
// exponential backoff.
func (s *Subscriber) Run(ctx context.Context) {
	wait := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
		if err != nil {
			log.Printf("feed: dial %s failed: %v (retry in %s)", s.URL, err, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			if wait *= 2; wait > maxReconnectWait {
				wait = maxReconnectWait
			}
			continue
		}

		wait = time.Second
		log.Printf("feed: connected to %s", s.URL)
		if s.OnResync != nil {
			s.OnResync()
		}
		s.readLoop(ctx, conn)
		_ = conn.Close()
	}
}

// readLoop pumps frames from one connection until it breaks or ctx ends.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	// The backend answers {"type":"ping"} with a pong; use it as liveness.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("feed: read failed: %v", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("feed: malformed frame dropped: %v", err)
			continue
		}
		if env.Type != "attendance" {
			continue // connected / pong / camera frames
		}
		if err := s.Queue.Publish(ctx, queue.Message{Type: env.Type, Body: env.Data}); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("feed: publish failed: %v", err)
		}
	}
}

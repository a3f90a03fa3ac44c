// Package realtime maintains the push connection to the sync service. It is
// an optimization over polling: operations arrive immediately instead of on
// the next pull tick, but every correctness guarantee holds if this channel
// never connects.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sellpoint/sellpoint-client/pkg/logger"
	"github.com/sellpoint/sellpoint-client/pkg/spsync"
)

// Handler consumes one inbound operation. It receives entries identical in
// shape to pull-batch entries.
type Handler func(ctx context.Context, entry spsync.PullEntry)

// Channel is the persistent websocket connection.
type Channel struct {
	wsURL  string
	header http.Header
	delay  time.Duration
	handle Handler
	log    logger.Interface

	dialer    *websocket.Dialer
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewChannel builds a channel for /ws/sync with the tenant and client
// identity in the query string.
func NewChannel(wsURL, businessID, userID, authToken string, delay time.Duration, handle Handler, log logger.Interface) (*Channel, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("businessId", businessID)
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}

	return &Channel{
		wsURL:  u.String(),
		header: header,
		delay:  delay,
		handle: handle,
		log:    log,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Start launches the connect loop. It returns immediately.
func (c *Channel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.connectLoop(ctx)
}

// Connected reports whether the channel currently holds a live connection.
// The value is advisory only.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Stop tears the connection down and waits for the loop to exit.
func (c *Channel) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// connectLoop dials, reads until the connection drops, then reconnects
// after a fixed delay. Reconnect attempts are unbounded.
func (c *Channel) connectLoop(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, c.header)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			c.log.Warn("realtime connect failed", "err", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.connected.Store(true)
		c.log.Info("realtime channel connected")

		c.readLoop(ctx, conn)

		c.connected.Store(false)
		conn.Close()

		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("realtime channel dropped", "err", err)
			}
			return
		}

		var entry spsync.PullEntry
		if err := json.Unmarshal(message, &entry); err != nil {
			c.log.Error("discarding malformed realtime message", "err", err)
			continue
		}
		c.handle(ctx, entry)
	}
}

func (c *Channel) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.delay):
		return true
	}
}

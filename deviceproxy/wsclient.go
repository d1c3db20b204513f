package deviceproxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/command"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	reconnectDelay = 5 * time.Second
	writeTimeout   = 10 * time.Second
)

// ErrNotConnected is returned by Send while the channel has no live
// websocket, for example between reconnect attempts.
var ErrNotConnected = errors.New("agent channel not connected")

// WSChannel is the websocket implementation of Channel. It dials the
// on-site agent's channel endpoint and keeps redialing until closed.
type WSChannel struct {
	logger    *slog.Logger
	url       string
	header    http.Header
	responses chan command.Response

	mu   sync.Mutex
	conn *websocket.Conn

	done     chan struct{}
	closeOne sync.Once
}

// NewWSChannel starts the connection loop immediately. The token, when
// non-empty, rides in an Authorization bearer header.
func NewWSChannel(logger *slog.Logger, url, token string) *WSChannel {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	c := &WSChannel{
		logger:    logger.With(slog.String("component", "ws-channel")),
		url:       url,
		header:    header,
		responses: make(chan command.Response, 64),
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// run dials, pumps responses until the connection drops, then backs off
// and dials again.
func (c *WSChannel) run() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, c.header)
		if err != nil {
			c.logger.Warn("agent connection failed",
				slog.String("url", c.url),
				slog.String("error", err.Error()))
			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay):
				continue
			}
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.logger.Info("agent connected", slog.String("url", c.url))

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.logger.Warn("agent disconnected, will reconnect",
			slog.Duration("delay", reconnectDelay))

		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *WSChannel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var resp command.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("dropping malformed response frame",
				slog.String("error", err.Error()))
			continue
		}
		select {
		case c.responses <- resp:
		case <-c.done:
			return
		}
	}
}

// Send ships one envelope to the agent. Writes are serialized; gorilla
// connections allow a single concurrent writer.
func (c *WSChannel) Send(ctx context.Context, env command.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing to agent channel: %w", err)
	}
	return nil
}

func (c *WSChannel) Responses() <-chan command.Response {
	return c.responses
}

func (c *WSChannel) Close() error {
	c.closeOne.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})
	return nil
}

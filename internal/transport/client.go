// Package transport carries protocol messages over a websocket connection to
// the dev server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hotsync/internal/config"
	"hotsync/internal/logging"
	"hotsync/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: client closed")
	// ErrSendQueueFull is returned by Send when the outbound queue is saturated.
	ErrSendQueueFull = errors.New("transport: send queue full")
)

const writeWait = 10 * time.Second

// Client is one websocket session with the dev server. Send never blocks;
// messages are written by a background goroutine in the order they were
// queued.
type Client struct {
	conn         *websocket.Conn
	sessionID    string
	pingInterval time.Duration
	log          *logging.Logger

	out  chan protocol.ClientMessage
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Dial connects to cfg.Server.URL and starts the writer goroutine.
func Dial(ctx context.Context, cfg *config.Config) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.GetHandshakeTimeout(),
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.Server.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", cfg.Server.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.Server.URL, err)
	}

	buffer := cfg.Server.SendBuffer
	if buffer <= 0 {
		buffer = 1
	}
	c := newClient(conn, buffer, cfg.GetPingInterval())
	c.log.Info("connected to %s", cfg.Server.URL)

	c.wg.Add(1)
	go c.writeLoop()
	return c, nil
}

func newClient(conn *websocket.Conn, buffer int, pingInterval time.Duration) *Client {
	id := uuid.NewString()
	return &Client{
		conn:         conn,
		sessionID:    id,
		pingInterval: pingInterval,
		log:          logging.Get(logging.CategoryTransport).With("session", id),
		out:          make(chan protocol.ClientMessage, buffer),
		done:         make(chan struct{}),
	}
}

// SessionID identifies this connection in logs.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Send queues msg for delivery. It does not wait for the write.
func (c *Client) Send(msg protocol.ClientMessage) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				c.log.Warn("write %s %s: %v", msg.Type, msg.Path, err)
			}
		case <-ping:
			deadline := time.Now().Add(writeWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Warn("ping: %v", err)
			}
		case <-c.done:
			c.drain()
			deadline := time.Now().Add(writeWait)
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
			return
		}
	}
}

// drain writes whatever was queued before Close.
func (c *Client) drain() {
	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(msg protocol.ClientMessage) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return err
	}
	c.log.Debug("sent %s %s", msg.Type, msg.Path)
	return nil
}

// Handler processes one server message. Returning an error stops Run.
type Handler func(msg protocol.ServerMessage) error

// Run reads server messages and hands each to handler until ctx is done, the
// client is closed, the peer closes the connection, or handler fails.
// Messages that fail to decode are logged and skipped. Run closes the client
// before returning.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer c.Close()

	if c.pingInterval > 0 {
		c.extendReadDeadline()
		c.conn.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("server closed the connection")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if c.pingInterval > 0 {
			c.extendReadDeadline()
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("skipping message: %v", err)
			continue
		}
		c.log.Debug("received %s for %s", msg.Type, msg.Resource)
		if err := handler(msg); err != nil {
			return fmt.Errorf("handle %s for %s: %w", msg.Type, msg.Resource, err)
		}
	}
}

func (c *Client) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close stops the writer, sends a close frame and closes the connection.
// Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	err := c.conn.Close()
	c.log.Info("connection closed")
	return err
}

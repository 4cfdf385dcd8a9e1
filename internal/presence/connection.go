// ABOUTME: Single websocket session with a buffered outbound queue
// ABOUTME: One writer goroutine preserves per-connection order and sends keepalive pings

package presence

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultSendBuffer is the outbound queue length per connection.
	DefaultSendBuffer = 128
	// DefaultPingInterval is how often the writer pings an idle client.
	DefaultPingInterval = 30 * time.Second

	writeWait = 10 * time.Second
)

// Close codes beyond the RFC 6455 set.
const (
	CloseSlowConsumer = 4008
)

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a slow client could not keep up.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Socket is the subset of *websocket.Conn a Connection writes through.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Socket = (*websocket.Conn)(nil)

// ConnectionOptions tunes a Connection. Zero values use the defaults.
type ConnectionOptions struct {
	SendBuffer   int
	PingInterval time.Duration
}

// Connection is one client socket. UserID is empty for anonymous sockets.
// Send is safe for concurrent use; only the writer goroutine touches ws.
type Connection struct {
	ID     string
	UserID string

	ws           Socket
	send         chan []byte
	done         chan struct{}
	once         sync.Once
	startOnce    sync.Once
	pingInterval time.Duration
}

// NewConnection wraps ws for userID.
func NewConnection(ws Socket, userID string, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	return &Connection{
		ID:           uuid.NewString(),
		UserID:       userID,
		ws:           ws,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		pingInterval: opts.PingInterval,
	}
}

// Start launches the writer goroutine. Later calls are no-ops.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		go c.writeLoop()
	})
}

// Send enqueues payload. A full queue closes the connection so one slow
// client cannot hold memory indefinitely.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.Close(CloseSlowConsumer, "send buffer full")
		return ErrSendBufferFull
	}
}

// SendEvent encodes data as a frame and enqueues it.
func (c *Connection) SendEvent(event string, data any) error {
	payload, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Close sends a close frame and tears down the socket. Safe to call repeatedly.
// The queue channel is never closed, so concurrent senders cannot panic.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

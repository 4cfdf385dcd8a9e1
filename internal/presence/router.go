// ABOUTME: Presence and event router for connected sockets
// ABOUTME: Binds users to connections, fans out chat events, and handles inbound frames

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/relay-gateway/internal/cache"
	"github.com/2389/relay-gateway/internal/session"
	"github.com/2389/relay-gateway/internal/store"
)

// Router owns every live connection and routes events to the connection
// currently bound to a user. Routing to an offline user is a silent drop.
type Router struct {
	// broadcastMu orders membership changes with their online broadcasts so
	// the last list a client receives always matches the registry.
	broadcastMu sync.Mutex

	mu       sync.RWMutex
	conns    map[string]*Connection // connection ID -> connection
	registry *session.Registry
	messages store.MessageStore
	cache    *cache.Layer
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates a router. Pass nil logger for default.
func NewRouter(registry *session.Registry, messages store.MessageStore, layer *cache.Layer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		conns:    make(map[string]*Connection),
		registry: registry,
		messages: messages,
		cache:    layer,
		logger:   logger.With("component", "presence"),
		now:      time.Now,
	}
}

// Connect registers conn, binds its user when known, starts its writer,
// and broadcasts the new online list to every connection.
func (r *Router) Connect(conn *Connection) {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	if conn.UserID != "" {
		r.registry.Bind(conn.UserID, conn.ID)
	}
	conn.Start()

	r.logger.Debug("connection opened", "conn_id", conn.ID, "user_id", conn.UserID)
	r.broadcastOnline()
}

// Disconnect removes conn, unbinds its user if the binding still points at
// it, closes the socket, and broadcasts the new online list.
func (r *Router) Disconnect(conn *Connection) {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.mu.Lock()
	_, ok := r.conns[conn.ID]
	delete(r.conns, conn.ID)
	r.mu.Unlock()

	conn.Close(websocket.CloseNormalClosure, "")
	if !ok {
		return
	}

	if conn.UserID != "" {
		r.registry.UnbindConnection(conn.UserID, conn.ID)
	}

	r.logger.Debug("connection closed", "conn_id", conn.ID, "user_id", conn.UserID)
	r.broadcastOnline()
}

// OnlineUsers returns the IDs of every bound user, sorted.
func (r *Router) OnlineUsers() []string {
	return r.registry.ListOnline()
}

// ConnectionCount returns the number of open connections, bound or not.
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Typing tells receiverID that senderID started typing.
func (r *Router) Typing(senderID, receiverID string) {
	r.sendToUser(receiverID, EventTyping, TypingPayload{SenderID: senderID})
}

// StopTyping tells receiverID that senderID stopped typing.
func (r *Router) StopTyping(senderID, receiverID string) {
	r.sendToUser(receiverID, EventStopTyping, TypingPayload{SenderID: senderID})
}

// MarkSeen marks everything senderID sent to viewerID as seen. When any
// message transitions, the pair's cached conversation is dropped and the
// sender is told which messages were read.
func (r *Router) MarkSeen(ctx context.Context, viewerID, senderID string) ([]store.SeenReceipt, error) {
	receipts, err := r.messages.MarkSeen(ctx, senderID, viewerID, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	if len(receipts) == 0 {
		return receipts, nil
	}

	if r.cache != nil {
		if err := r.cache.InvalidateConversation(ctx, viewerID, senderID); err != nil {
			r.logger.Warn("failed to invalidate conversation after seen",
				"viewer_id", viewerID, "sender_id", senderID, "error", err)
		}
	}
	r.SeenNotice(viewerID, senderID, receipts)
	return receipts, nil
}

// SeenNotice tells senderID that viewerID read the given messages.
func (r *Router) SeenNotice(viewerID, senderID string, receipts []store.SeenReceipt) {
	r.sendToUser(senderID, EventMessageSeen, SeenPayload{
		ReceiverID:   viewerID,
		SeenMessages: receipts,
	})
}

// NewMessage delivers msg, enriched with the sender's display fields, to
// both participants.
func (r *Router) NewMessage(msg *store.Message, sender *store.User) {
	payload := NewMessagePayload(msg, sender)
	r.sendToUser(msg.SenderID, EventNewMessage, payload)
	if msg.ReceiverID != msg.SenderID {
		r.sendToUser(msg.ReceiverID, EventNewMessage, payload)
	}
}

// MessageDeleted tells both participants that messageID was deleted.
func (r *Router) MessageDeleted(messageID string, deletedAt time.Time, senderID, receiverID string) {
	payload := DeletedPayload{MessageID: messageID, DeletedAt: deletedAt}
	r.sendToUser(receiverID, EventMessageDeleted, payload)
	r.sendToUser(senderID, EventMessageDeleted, payload)
}

// HandleFrame dispatches one inbound frame from conn. Frames that cannot be
// handled are answered with an error event on the same connection.
func (r *Router) HandleFrame(ctx context.Context, conn *Connection, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.replyError(conn, "invalid frame")
		return
	}

	switch frame.Event {
	case EventMarkSeen:
		var p MarkSeenPayload
		if err := decodeData(frame.Data, &p); err != nil || p.SenderID == "" {
			r.replyError(conn, "senderId is required")
			return
		}
		if conn.UserID == "" {
			r.replyError(conn, "connection is not bound to a user")
			return
		}
		if _, err := r.MarkSeen(ctx, conn.UserID, p.SenderID); err != nil {
			r.logger.Error("mark seen from socket failed",
				"conn_id", conn.ID, "user_id", conn.UserID, "error", err)
			r.replyError(conn, "could not mark messages as seen")
		}

	case EventTyping, EventStopTyping:
		var p TypingPayload
		if err := decodeData(frame.Data, &p); err != nil || p.ReceiverID == "" {
			r.replyError(conn, "receiverId is required")
			return
		}
		// A bound connection always speaks for its own user.
		if conn.UserID != "" {
			p.SenderID = conn.UserID
		}
		if p.SenderID == "" {
			r.replyError(conn, "senderId is required")
			return
		}
		if frame.Event == EventTyping {
			r.Typing(p.SenderID, p.ReceiverID)
		} else {
			r.StopTyping(p.SenderID, p.ReceiverID)
		}

	default:
		r.replyError(conn, "unknown event: "+frame.Event)
	}
}

// Close closes every connection and unbinds every user.
func (r *Router) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	r.registry.Close()
	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	r.logger.Debug("router closed", "connections", len(conns))
}

// sendToUser delivers one event to the connection bound to userID, if any.
func (r *Router) sendToUser(userID, event string, data any) {
	if userID == "" {
		return
	}
	connID, ok := r.registry.Lookup(userID)
	if !ok {
		return
	}

	r.mu.RLock()
	conn := r.conns[connID]
	r.mu.RUnlock()
	if conn == nil {
		return
	}

	if err := conn.SendEvent(event, data); err != nil {
		r.logger.Debug("dropped event",
			"event", event, "user_id", userID, "conn_id", connID, "error", err)
	}
}

// broadcastOnline sends the current online list to every connection.
// Callers hold broadcastMu.
func (r *Router) broadcastOnline() {
	payload, err := EncodeFrame(EventOnlineUsers, r.registry.ListOnline())
	if err != nil {
		r.logger.Error("failed to encode online users", "error", err)
		return
	}

	// Copy targets under read lock to avoid holding it during sends
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			r.logger.Debug("dropped online list", "conn_id", conn.ID, "error", err)
		}
	}
}

func (r *Router) replyError(conn *Connection, msg string) {
	if err := conn.SendEvent(EventError, ErrorPayload{Message: msg}); err != nil {
		r.logger.Debug("dropped error reply", "conn_id", conn.ID, "error", err)
	}
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, dst)
}

// ABOUTME: Typed read-through/write-invalidate cache over a Backend
// ABOUTME: Holds per-requester user lists and per-pair conversations as JSON

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/relay-gateway/internal/store"
)

// Default lifetimes for cached entries.
const (
	DefaultUserListTTL     = 300 * time.Second
	DefaultConversationTTL = 120 * time.Second
)

const (
	userListPrefix     = "users:except:"
	conversationPrefix = "messages:"
)

// UserListKey is the key holding the user list shown to requesterID.
func UserListKey(requesterID string) string {
	return userListPrefix + requesterID
}

// ConversationKey is the key holding the messages between a and b.
// The pair is sorted so both participants share one entry.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return conversationPrefix + a + ":" + b
}

// Layer stores user lists and conversations in a Backend.
// Entries are never updated in place; writers invalidate and the next
// reader repopulates from the store.
type Layer struct {
	backend         Backend
	userListTTL     time.Duration
	conversationTTL time.Duration
	logger          *slog.Logger
}

// LayerOption customizes a Layer.
type LayerOption func(*Layer)

// WithUserListTTL overrides the user list lifetime.
func WithUserListTTL(ttl time.Duration) LayerOption {
	return func(l *Layer) {
		if ttl > 0 {
			l.userListTTL = ttl
		}
	}
}

// WithConversationTTL overrides the conversation lifetime.
func WithConversationTTL(ttl time.Duration) LayerOption {
	return func(l *Layer) {
		if ttl > 0 {
			l.conversationTTL = ttl
		}
	}
}

// NewLayer wraps backend. A nil logger uses slog.Default().
func NewLayer(backend Backend, logger *slog.Logger, opts ...LayerOption) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Layer{
		backend:         backend,
		userListTTL:     DefaultUserListTTL,
		conversationTTL: DefaultConversationTTL,
		logger:          logger.With("component", "cache"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Backend exposes the underlying key-value store.
func (l *Layer) Backend() Backend {
	return l.backend
}

// UserList returns the cached user list for requesterID or ErrMiss.
func (l *Layer) UserList(ctx context.Context, requesterID string) ([]*store.User, error) {
	var users []*store.User
	if err := l.getJSON(ctx, UserListKey(requesterID), &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SetUserList caches the user list shown to requesterID.
func (l *Layer) SetUserList(ctx context.Context, requesterID string, users []*store.User) error {
	return l.setJSON(ctx, UserListKey(requesterID), users, l.userListTTL)
}

// InvalidateUserList drops the cached list for one requester.
func (l *Layer) InvalidateUserList(ctx context.Context, requesterID string) error {
	if _, err := l.backend.Del(ctx, UserListKey(requesterID)); err != nil {
		return fmt.Errorf("invalidate user list: %w", err)
	}
	return nil
}

// InvalidateAllUserLists drops every cached user list. Called when a user
// joins or changes how they appear to others.
func (l *Layer) InvalidateAllUserLists(ctx context.Context) error {
	n, err := l.backend.DelPrefix(ctx, userListPrefix)
	if err != nil {
		return fmt.Errorf("invalidate user lists: %w", err)
	}
	l.logger.Debug("invalidated user lists", "count", n)
	return nil
}

// Conversation returns the cached messages between a and b or ErrMiss.
func (l *Layer) Conversation(ctx context.Context, a, b string) ([]*store.Message, error) {
	var msgs []*store.Message
	if err := l.getJSON(ctx, ConversationKey(a, b), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SetConversation caches the messages between a and b.
func (l *Layer) SetConversation(ctx context.Context, a, b string, msgs []*store.Message) error {
	return l.setJSON(ctx, ConversationKey(a, b), msgs, l.conversationTTL)
}

// InvalidateConversation drops the cached conversation between a and b.
func (l *Layer) InvalidateConversation(ctx context.Context, a, b string) error {
	if _, err := l.backend.Del(ctx, ConversationKey(a, b)); err != nil {
		return fmt.Errorf("invalidate conversation: %w", err)
	}
	return nil
}

// getJSON decodes the value at key into dst. A corrupt entry is removed
// and reported as a miss so the caller reloads from the store.
func (l *Layer) getJSON(ctx context.Context, key string, dst any) error {
	raw, err := l.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return ErrMiss
		}
		return fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		l.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		if _, delErr := l.backend.Del(ctx, key); delErr != nil {
			l.logger.Warn("failed to drop cache entry", "key", key, "error", delErr)
		}
		return ErrMiss
	}
	return nil
}

func (l *Layer) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := l.backend.Set(ctx, key, string(data), ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

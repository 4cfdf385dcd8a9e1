// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite or MongoDB

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]*User    // keyed by user ID
	emails   map[string]string   // lowercased email -> user ID
	messages map[string]*Message // keyed by message ID
	order    []string            // message IDs in insertion order

	// pingErr, when set, is returned by Ping and every message operation.
	pingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[string]*User),
		emails:   make(map[string]string),
		messages: make(map[string]*Message),
	}
}

// CreateUser stores a new user, assigning an ID if none is set.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := m.emails[email]; exists {
		return ErrDuplicateEmail
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	u := *user
	m.users[u.ID] = &u
	m.emails[email] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.users[id]
	return &result, nil
}

// ListUsers returns every user ordered by creation time.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	return m.ListUsersExcept(ctx, "")
}

// ListUsersExcept returns every user other than id ordered by creation time.
func (m *MockStore) ListUsersExcept(ctx context.Context, id string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		if u.ID == id {
			continue
		}
		c := *u
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateProfilePic sets a user's avatar URL and returns the updated user.
func (m *MockStore) UpdateProfilePic(ctx context.Context, id, url string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.ProfilePic = url
	u.UpdatedAt = time.Now().UTC()
	result := *u
	return &result, nil
}

// SetLocked locks or unlocks a user account.
func (m *MockStore) SetLocked(ctx context.Context, id string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Locked = locked
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateMessage stores a new message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pingErr != nil {
		return m.pingErr
	}

	msg.ID = uuid.New().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Seen = false
	msg.SeenAt = nil
	msg.IsDeleted = false
	msg.DeletedAt = nil

	c := copyMessage(msg)
	m.messages[c.ID] = c
	m.order = append(m.order, c.ID)
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pingErr != nil {
		return nil, m.pingErr
	}

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// ListConversation returns messages between two users, oldest first.
func (m *MockStore) ListConversation(ctx context.Context, userA, userB string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pingErr != nil {
		return nil, m.pingErr
	}

	var result []*Message
	for _, id := range m.order {
		msg := m.messages[id]
		if inConversation(msg, userA, userB) {
			result = append(result, copyMessage(msg))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// MarkSeen flips unseen senderID->receiverID messages to seen.
func (m *MockStore) MarkSeen(ctx context.Context, senderID, receiverID string, seenAt time.Time) ([]SeenReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pingErr != nil {
		return nil, m.pingErr
	}

	var receipts []SeenReceipt
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.SenderID != senderID || msg.ReceiverID != receiverID || msg.Seen {
			continue
		}
		at := seenAt
		msg.Seen = true
		msg.SeenAt = &at
		receipts = append(receipts, SeenReceipt{MessageID: msg.ID, SeenAt: seenAt})
	}
	return receipts, nil
}

// MarkDeleted logically deletes a message owned by senderID.
func (m *MockStore) MarkDeleted(ctx context.Context, id, senderID string, deletedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pingErr != nil {
		return m.pingErr
	}

	msg, ok := m.messages[id]
	if !ok || msg.SenderID != senderID || msg.IsDeleted {
		return ErrNotFound
	}
	at := deletedAt
	msg.IsDeleted = true
	msg.DeletedAt = &at
	return nil
}

// Ping reports the error set with SetPingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// SetPingErr makes every message operation fail with err until cleared with nil.
func (m *MockStore) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func inConversation(msg *Message, userA, userB string) bool {
	return (msg.SenderID == userA && msg.ReceiverID == userB) ||
		(msg.SenderID == userB && msg.ReceiverID == userA)
}

// copyMessage returns a deep copy so callers cannot mutate stored state.
func copyMessage(msg *Message) *Message {
	c := *msg
	if msg.SeenAt != nil {
		t := *msg.SeenAt
		c.SeenAt = &t
	}
	if msg.DeletedAt != nil {
		t := *msg.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

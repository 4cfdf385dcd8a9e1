// ABOUTME: Store interfaces and data types for relay-gateway persistence
// ABOUTME: Defines User, Message, SeenReceipt and the MessageStore/UserStore contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating a user whose email is already taken
var ErrDuplicateEmail = errors.New("email already registered")

// User is the public identity of a chat participant.
// Credentials live with the auth provider, not here.
type User struct {
	ID         string    `json:"id"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profilePic"`
	Locked     bool      `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Message is a single direct message between two users.
// SeenAt is set iff Seen; DeletedAt is set iff IsDeleted.
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Text       string     `json:"text,omitempty"`
	Image      string     `json:"image,omitempty"`
	Seen       bool       `json:"seen"`
	SeenAt     *time.Time `json:"seenAt"`
	IsDeleted  bool       `json:"isDeleted"`
	DeletedAt  *time.Time `json:"deletedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// SeenReceipt records one message that transitioned from unseen to seen.
type SeenReceipt struct {
	MessageID string    `json:"messageId"`
	SeenAt    time.Time `json:"seenAt"`
}

// MessageStore is the durable message collection.
type MessageStore interface {
	// CreateMessage assigns ID and CreatedAt and persists the message unseen and not deleted.
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListConversation returns every message exchanged between a and b, oldest first.
	ListConversation(ctx context.Context, userA, userB string) ([]*Message, error)
	// MarkSeen flips all unseen senderID->receiverID messages to seen, stamping each with seenAt.
	MarkSeen(ctx context.Context, senderID, receiverID string, seenAt time.Time) ([]SeenReceipt, error)
	// MarkDeleted logically deletes a message sent by senderID that is not already deleted.
	// Returns ErrNotFound when no such message exists.
	MarkDeleted(ctx context.Context, id, senderID string, deletedAt time.Time) error
}

// UserStore is the user population the chat reads from.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	ListUsersExcept(ctx context.Context, id string) ([]*User, error)
	UpdateProfilePic(ctx context.Context, id, url string) (*User, error)
	SetLocked(ctx context.Context, id string, locked bool) error
}

// Store is everything a backend must provide.
type Store interface {
	MessageStore
	UserStore
	Ping(ctx context.Context) error
	Close() error
}

// ABOUTME: Conversation service orchestrating store, cache, uploads, and live routing
// ABOUTME: Durable write first, then cache invalidation, then best-effort fan-out

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/relay-gateway/internal/blob"
	"github.com/2389/relay-gateway/internal/cache"
	"github.com/2389/relay-gateway/internal/presence"
	"github.com/2389/relay-gateway/internal/store"
)

// DefaultDeleteWindow is how long after sending a message may be deleted for everyone.
const DefaultDeleteWindow = time.Hour

// Store defines what the service needs from storage
type Store interface {
	store.MessageStore
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListUsersExcept(ctx context.Context, id string) ([]*store.User, error)
	UpdateProfilePic(ctx context.Context, id, url string) (*store.User, error)
}

// EventRouter defines what the service needs from the presence layer
type EventRouter interface {
	MarkSeen(ctx context.Context, viewerID, senderID string) ([]store.SeenReceipt, error)
	NewMessage(msg *store.Message, sender *store.User)
	MessageDeleted(messageID string, deletedAt time.Time, senderID, receiverID string)
}

// Service implements the four chat use cases plus profile picture updates.
type Service struct {
	store         Store
	cache         *cache.Layer
	router        EventRouter
	uploader      blob.Uploader
	deleteWindow  time.Duration
	maxTextLength int
	logger        *slog.Logger
	now           func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithDeleteWindow sets how old a message may be and still be deleted for everyone.
func WithDeleteWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.deleteWindow = d
		}
	}
}

// WithMaxTextLength sets the longest accepted message text, in runes.
func WithMaxTextLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTextLength = n
		}
	}
}

// New creates a conversation service. uploader may be nil, in which case
// image messages and profile pictures are rejected.
func New(st Store, layer *cache.Layer, router EventRouter, uploader blob.Uploader, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:         st,
		cache:         layer,
		router:        router,
		uploader:      uploader,
		deleteWindow:  DefaultDeleteWindow,
		maxTextLength: DefaultMaxTextLength,
		logger:        logger.With("component", "conversation"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListOthers returns every user except requesterID, served from cache when possible.
// An empty population returns ErrNoUsers and is not cached.
func (s *Service) ListOthers(ctx context.Context, requesterID string) ([]*store.User, error) {
	if requesterID == "" {
		return nil, reject(ErrValidation, "User ID is required")
	}

	users, err := s.cache.UserList(ctx, requesterID)
	switch {
	case err == nil:
		if len(users) > 0 {
			return users, nil
		}
	case errors.Is(err, cache.ErrMiss):
	default:
		return nil, dependency("read user list cache", err)
	}

	users, err = s.store.ListUsersExcept(ctx, requesterID)
	if err != nil {
		return nil, dependency("list users", err)
	}
	if len(users) == 0 {
		return nil, ErrNoUsers
	}

	if err := s.cache.SetUserList(ctx, requesterID, users); err != nil {
		s.logger.Warn("failed to cache user list", "requester_id", requesterID, "error", err)
	}
	return users, nil
}

// FetchConversation returns every message between viewerID and partnerID,
// oldest first, then marks partner->viewer messages as seen. The returned
// messages reflect the state before the seen update.
func (s *Service) FetchConversation(ctx context.Context, viewerID, partnerID string) ([]*store.Message, error) {
	if viewerID == "" || partnerID == "" {
		return nil, reject(ErrValidation, "User ID is required")
	}

	msgs, err := s.cache.Conversation(ctx, viewerID, partnerID)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrMiss):
		msgs, err = s.store.ListConversation(ctx, viewerID, partnerID)
		if err != nil {
			return nil, dependency("load conversation", err)
		}
		if msgs == nil {
			msgs = []*store.Message{}
		}
		if err := s.cache.SetConversation(ctx, viewerID, partnerID, msgs); err != nil {
			s.logger.Warn("failed to cache conversation",
				"viewer_id", viewerID, "partner_id", partnerID, "error", err)
		}
	default:
		return nil, dependency("read conversation cache", err)
	}

	receipts, err := s.router.MarkSeen(ctx, viewerID, partnerID)
	if err != nil {
		return nil, dependency("mark seen", err)
	}
	if len(receipts) > 0 {
		s.logger.Debug("messages marked seen",
			"viewer_id", viewerID, "partner_id", partnerID, "count", len(receipts))
	}
	return msgs, nil
}

// SendRequest is one outgoing message. Image is a data URI.
type SendRequest struct {
	SenderID   string
	ReceiverID string
	Text       string
	Image      string
}

// Send persists a message, invalidates the pair's cached conversation, and
// routes the enriched message to both participants.
func (s *Service) Send(ctx context.Context, req SendRequest) (presence.MessagePayload, error) {
	var none presence.MessagePayload

	if req.SenderID == "" || req.ReceiverID == "" {
		return none, reject(ErrValidation, "User ID is required")
	}
	if req.SenderID == req.ReceiverID {
		return none, reject(ErrValidation, "You cannot send a message to yourself")
	}

	text, err := sanitizeText(req.Text, s.maxTextLength)
	if err != nil {
		return none, reject(ErrValidation, fmt.Sprintf("Message exceeds maximum length of %d characters", s.maxTextLength))
	}
	if text == "" && req.Image == "" {
		return none, reject(ErrValidation, "Message must contain text or an image")
	}

	sender, err := s.lookupUser(ctx, req.SenderID, "Sender not found")
	if err != nil {
		return none, err
	}
	if _, err := s.lookupUser(ctx, req.ReceiverID, "Receiver not found"); err != nil {
		return none, err
	}

	var imageURL string
	if req.Image != "" {
		imageURL, err = s.upload(ctx, req.Image)
		if err != nil {
			return none, err
		}
	}

	msg := &store.Message{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Text:       text,
		Image:      imageURL,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return none, dependency("create message", err)
	}

	s.invalidateConversation(ctx, req.SenderID, req.ReceiverID)
	s.router.NewMessage(msg, sender)

	s.logger.Debug("message sent",
		"message_id", msg.ID, "sender_id", msg.SenderID, "receiver_id", msg.ReceiverID)
	return presence.NewMessagePayload(msg, sender), nil
}

// DeleteForEveryone logically deletes a message sent by requesterID within
// the delete window and tells both participants.
func (s *Service) DeleteForEveryone(ctx context.Context, requesterID, messageID string) (*store.Message, error) {
	if requesterID == "" || messageID == "" {
		return nil, reject(ErrValidation, "Message ID is required")
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, reject(ErrNotFound, "Message not found")
	}
	if err != nil {
		return nil, dependency("load message", err)
	}

	if msg.SenderID != requesterID {
		return nil, reject(ErrForbidden, "You are not authorized to delete this message")
	}
	if msg.IsDeleted {
		return nil, reject(ErrPolicy, "Message already deleted")
	}

	now := s.now().UTC()
	if now.Sub(msg.CreatedAt) > s.deleteWindow {
		return nil, reject(ErrPolicy, fmt.Sprintf("Messages older than %s cannot be deleted for everyone", humanWindow(s.deleteWindow)))
	}

	if err := s.store.MarkDeleted(ctx, msg.ID, requesterID, now); err != nil {
		// Lost a race with a concurrent delete
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(ErrPolicy, "Message already deleted")
		}
		return nil, dependency("delete message", err)
	}
	msg.IsDeleted = true
	msg.DeletedAt = &now

	s.invalidateConversation(ctx, msg.SenderID, msg.ReceiverID)
	s.router.MessageDeleted(msg.ID, now, msg.SenderID, msg.ReceiverID)

	s.logger.Debug("message deleted for everyone", "message_id", msg.ID, "sender_id", msg.SenderID)
	return msg, nil
}

// UpdateProfilePic uploads a new picture for userID and drops every cached
// user list, since each one may include this user.
func (s *Service) UpdateProfilePic(ctx context.Context, userID, dataURI string) (*store.User, error) {
	if userID == "" {
		return nil, reject(ErrValidation, "User ID is required")
	}
	if dataURI == "" {
		return nil, reject(ErrValidation, "Profile pic is required")
	}

	url, err := s.upload(ctx, dataURI)
	if err != nil {
		return nil, err
	}

	user, err := s.store.UpdateProfilePic(ctx, userID, url)
	if errors.Is(err, store.ErrNotFound) {
		return nil, reject(ErrNotFound, "User not found")
	}
	if err != nil {
		return nil, dependency("update profile picture", err)
	}

	if err := s.cache.InvalidateAllUserLists(ctx); err != nil {
		s.logger.Warn("failed to invalidate user lists", "user_id", userID, "error", err)
	}
	return user, nil
}

func (s *Service) lookupUser(ctx context.Context, id, notFound string) (*store.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, reject(ErrNotFound, notFound)
	}
	if err != nil {
		return nil, dependency("load user", err)
	}
	return user, nil
}

func (s *Service) upload(ctx context.Context, dataURI string) (string, error) {
	if s.uploader == nil {
		return "", reject(ErrValidation, "Image uploads are not enabled")
	}
	url, err := s.uploader.Upload(ctx, dataURI)
	switch {
	case err == nil:
		return url, nil
	case errors.Is(err, blob.ErrTooLarge):
		return "", reject(ErrValidation, "Image too large")
	case errors.Is(err, blob.ErrInvalidImage):
		return "", reject(ErrValidation, "Image must be a PNG, JPEG, GIF, or WebP data URI")
	default:
		return "", dependency("upload image", err)
	}
}

// invalidateConversation runs after a durable write. Failure is logged only;
// the entry's TTL bounds how long a stale copy can be served.
func (s *Service) invalidateConversation(ctx context.Context, a, b string) {
	if err := s.cache.InvalidateConversation(ctx, a, b); err != nil {
		s.logger.Warn("failed to invalidate conversation", "user_a", a, "user_b", b, "error", err)
	}
}

func humanWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}

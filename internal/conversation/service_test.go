// ABOUTME: Tests for the conversation service
// ABOUTME: Runs against the mock store, in-memory cache, and a real presence router

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/blob"
	"github.com/2389/relay-gateway/internal/cache"
	"github.com/2389/relay-gateway/internal/presence"
	"github.com/2389/relay-gateway/internal/session"
	"github.com/2389/relay-gateway/internal/store"
)

// captureSocket records every frame written to a client.
type captureSocket struct {
	mu     sync.Mutex
	frames []presence.Frame
}

func (c *captureSocket) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	var f presence.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *captureSocket) WriteControl(int, []byte, time.Time) error { return nil }
func (c *captureSocket) SetWriteDeadline(time.Time) error         { return nil }
func (c *captureSocket) Close() error                             { return nil }

func (c *captureSocket) events(event string) []presence.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []presence.Frame
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *captureSocket) wait(t *testing.T, event string, n int) []presence.Frame {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.events(event)) >= n },
		time.Second, 5*time.Millisecond, "waiting for %d %q frames", n, event)
	return c.events(event)
}

type fakeUploader struct {
	url   string
	err   error
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, dataURI string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fixture struct {
	svc      *Service
	store    *store.MockStore
	backend  *cache.MemoryBackend
	layer    *cache.Layer
	router   *presence.Router
	uploader *fakeUploader
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	backend := cache.NewMemoryBackend(1000)
	t.Cleanup(func() { _ = backend.Close() })

	ms := store.NewMockStore()
	layer := cache.NewLayer(backend, nil)
	router := presence.NewRouter(session.NewRegistry(nil), ms, layer, nil)
	t.Cleanup(router.Close)

	up := &fakeUploader{url: "/uploads/pic.png"}
	f := &fixture{
		svc:      New(ms, layer, router, up, nil, opts...),
		store:    ms,
		backend:  backend,
		layer:    layer,
		router:   router,
		uploader: up,
	}
	for _, id := range []string{"alice", "bob", "carol"} {
		f.addUser(t, id)
	}
	return f
}

func (f *fixture) addUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(t.Context(), &store.User{
		ID:         id,
		FullName:   strings.ToUpper(id[:1]) + id[1:],
		Email:      id + "@example.com",
		ProfilePic: "/uploads/" + id + ".png",
	}))
}

func (f *fixture) bind(userID string) *captureSocket {
	sock := &captureSocket{}
	f.router.Connect(presence.NewConnection(sock, userID, presence.ConnectionOptions{}))
	return sock
}

func (f *fixture) message(t *testing.T, from, to, text string) *store.Message {
	t.Helper()
	msg := &store.Message{SenderID: from, ReceiverID: to, Text: text}
	require.NoError(t, f.store.CreateMessage(t.Context(), msg))
	return msg
}

func TestListOthers_CacheFirst(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	users, err := f.svc.ListOthers(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.NotEqual(t, "alice", u.ID)
	}

	cached, err := f.layer.UserList(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	// A new user is invisible until the cached entry goes away
	f.addUser(t, "dave")
	users, err = f.svc.ListOthers(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, f.layer.InvalidateAllUserLists(ctx))
	users, err = f.svc.ListOthers(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestListOthers_NoUsersIsDistinctAndNotCached(t *testing.T) {
	backend := cache.NewMemoryBackend(10)
	t.Cleanup(func() { _ = backend.Close() })
	ms := store.NewMockStore()
	layer := cache.NewLayer(backend, nil)
	svc := New(ms, layer, presence.NewRouter(session.NewRegistry(nil), ms, layer, nil), nil, nil)

	require.NoError(t, ms.CreateUser(t.Context(), &store.User{ID: "solo", Email: "solo@example.com"}))

	_, err := svc.ListOthers(t.Context(), "solo")
	assert.ErrorIs(t, err, ErrNoUsers)
	assert.NotErrorIs(t, err, ErrDependency)
	assert.Equal(t, 0, backend.Len())
}

func TestListOthers_CacheFailureIsDependencyError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.backend.Close())

	_, err := f.svc.ListOthers(t.Context(), "alice")
	assert.ErrorIs(t, err, ErrDependency)
}

func TestFetchConversation_MarksSeenAndNotifiesPartner(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	aliceSock := f.bind("alice")
	for _, text := range []string{"one", "two", "three"} {
		f.message(t, "alice", "bob", text)
	}
	f.message(t, "bob", "alice", "reply")

	msgs, err := f.svc.FetchConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	// Payload reflects the state before the seen update
	for _, m := range msgs {
		assert.False(t, m.Seen)
	}

	// All three alice->bob messages are now seen with one timestamp
	stored, err := f.store.ListConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	var seenAt *time.Time
	for _, m := range stored {
		if m.SenderID != "alice" {
			assert.False(t, m.Seen, "bob's own message must stay unseen")
			continue
		}
		require.True(t, m.Seen)
		require.NotNil(t, m.SeenAt)
		if seenAt == nil {
			seenAt = m.SeenAt
		}
		assert.True(t, seenAt.Equal(*m.SeenAt))
	}

	frames := aliceSock.wait(t, presence.EventMessageSeen, 1)
	var seen presence.SeenPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &seen))
	assert.Equal(t, "bob", seen.ReceiverID)
	assert.Len(t, seen.SeenMessages, 3)

	// The cache was invalidated, so the next fetch recomputes
	msgs, err = f.svc.FetchConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, msgs[0].Seen)

	// Nothing new to mark: still exactly one event
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, aliceSock.events(presence.EventMessageSeen), 1)
}

func TestFetchConversation_ServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	f.message(t, "bob", "alice", "hi")
	_, err := f.svc.FetchConversation(ctx, "bob", "alice")
	require.NoError(t, err)

	// A write behind the service's back is not visible while cached
	f.message(t, "alice", "carol", "unrelated")
	require.NoError(t, f.layer.SetConversation(ctx, "alice", "bob", []*store.Message{{ID: "cached"}}))

	msgs, err := f.svc.FetchConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "cached", msgs[0].ID)
}

func TestFetchConversation_EmptyIsNotNil(t *testing.T) {
	f := newFixture(t)

	msgs, err := f.svc.FetchConversation(t.Context(), "alice", "carol")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestFetchConversation_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.FetchConversation(t.Context(), "alice", "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "User ID is required", Message(err, ""))

	f.store.SetPingErr(errors.New("db down"))
	_, err = f.svc.FetchConversation(t.Context(), "alice", "bob")
	assert.ErrorIs(t, err, ErrDependency)
}

func TestSend_DeliversToBothAndInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	aliceSock := f.bind("alice")
	bobSock := f.bind("bob")
	carolSock := f.bind("carol")

	require.NoError(t, f.layer.SetConversation(ctx, "alice", "bob", []*store.Message{}))

	payload, err := f.svc.Send(ctx, SendRequest{SenderID: "alice", ReceiverID: "bob", Text: "  hi  "})
	require.NoError(t, err)
	assert.NotEmpty(t, payload.ID)
	assert.Equal(t, "hi", payload.Text)
	assert.False(t, payload.Seen)
	assert.Equal(t, "Alice", payload.FullName)
	assert.Equal(t, "/uploads/alice.png", payload.ProfilePic)

	_, err = f.layer.Conversation(ctx, "alice", "bob")
	assert.ErrorIs(t, err, cache.ErrMiss)

	for _, sock := range []*captureSocket{aliceSock, bobSock} {
		frames := sock.wait(t, presence.EventNewMessage, 1)
		require.Len(t, frames, 1)
		var got map[string]any
		require.NoError(t, json.Unmarshal(frames[0].Data, &got))
		assert.Equal(t, "hi", got["text"])
		assert.Equal(t, false, got["seen"])
		assert.Equal(t, "Alice", got["fullName"])
	}
	assert.Empty(t, carolSock.events(presence.EventNewMessage))

	stored, err := f.store.GetMessage(ctx, payload.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", stored.Text)
}

func TestSend_ToOfflineReceiverStillPersists(t *testing.T) {
	f := newFixture(t)

	payload, err := f.svc.Send(t.Context(), SendRequest{SenderID: "alice", ReceiverID: "bob", Text: "later"})
	require.NoError(t, err)

	_, err = f.store.GetMessage(t.Context(), payload.ID)
	assert.NoError(t, err)
}

func TestSend_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  SendRequest
		kind error
		msg  string
	}{
		{"self", SendRequest{SenderID: "alice", ReceiverID: "alice", Text: "me"}, ErrValidation, "You cannot send a message to yourself"},
		{"no receiver", SendRequest{SenderID: "alice", Text: "hi"}, ErrValidation, "User ID is required"},
		{"empty", SendRequest{SenderID: "alice", ReceiverID: "bob", Text: "   "}, ErrValidation, "Message must contain text or an image"},
		{"only script", SendRequest{SenderID: "alice", ReceiverID: "bob", Text: "<script>x()</script>"}, ErrValidation, "Message must contain text or an image"},
		{"too long", SendRequest{SenderID: "alice", ReceiverID: "bob", Text: strings.Repeat("a", 11)}, ErrValidation, "Message exceeds maximum length of 10 characters"},
		{"unknown receiver", SendRequest{SenderID: "alice", ReceiverID: "zed", Text: "hi"}, ErrNotFound, "Receiver not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithMaxTextLength(10))
			aliceSock := f.bind("alice")

			_, err := f.svc.Send(t.Context(), tt.req)
			require.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.msg, Message(err, ""))

			msgs, err := f.store.ListConversation(t.Context(), "alice", tt.req.ReceiverID)
			require.NoError(t, err)
			assert.Empty(t, msgs)

			time.Sleep(10 * time.Millisecond)
			assert.Empty(t, aliceSock.events(presence.EventNewMessage))
		})
	}
}

func TestSend_Image(t *testing.T) {
	f := newFixture(t)

	payload, err := f.svc.Send(t.Context(), SendRequest{SenderID: "alice", ReceiverID: "bob", Image: "data:image/png;base64,xx"})
	require.NoError(t, err)
	assert.Equal(t, "/uploads/pic.png", payload.Image)
	assert.Empty(t, payload.Text)
	assert.Equal(t, 1, f.uploader.calls)
}

func TestSend_UploadFailureAborts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"backend down", errors.New("disk full"), ErrDependency},
		{"too large", blob.ErrTooLarge, ErrValidation},
		{"not an image", blob.ErrInvalidImage, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.uploader.err = tt.err

			_, err := f.svc.Send(t.Context(), SendRequest{SenderID: "alice", ReceiverID: "bob", Text: "look", Image: "data:x"})
			assert.ErrorIs(t, err, tt.kind)

			msgs, err := f.store.ListConversation(t.Context(), "alice", "bob")
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestSend_ImageWithoutUploader(t *testing.T) {
	f := newFixture(t)
	f.svc.uploader = nil

	_, err := f.svc.Send(t.Context(), SendRequest{SenderID: "alice", ReceiverID: "bob", Image: "data:x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteForEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	aliceSock := f.bind("alice")
	bobSock := f.bind("bob")
	msg := f.message(t, "alice", "bob", "oops")
	require.NoError(t, f.layer.SetConversation(ctx, "alice", "bob", []*store.Message{}))

	deleted, err := f.svc.DeleteForEveryone(ctx, "alice", msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	require.NotNil(t, deleted.DeletedAt)

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.NotNil(t, stored.DeletedAt)
	// Logical delete keeps the content
	assert.Equal(t, "oops", stored.Text)

	_, err = f.layer.Conversation(ctx, "alice", "bob")
	assert.ErrorIs(t, err, cache.ErrMiss)

	for _, sock := range []*captureSocket{aliceSock, bobSock} {
		frames := sock.wait(t, presence.EventMessageDeleted, 1)
		var p presence.DeletedPayload
		require.NoError(t, json.Unmarshal(frames[0].Data, &p))
		assert.Equal(t, msg.ID, p.MessageID)
	}

	// Second attempt is detected
	_, err = f.svc.DeleteForEveryone(ctx, "alice", msg.ID)
	assert.ErrorIs(t, err, ErrPolicy)
	assert.Equal(t, "Message already deleted", Message(err, ""))
}

func TestDeleteForEveryone_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	msg := f.message(t, "alice", "bob", "mine")

	_, err := f.svc.DeleteForEveryone(ctx, "alice", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Message not found", Message(err, ""))

	_, err = f.svc.DeleteForEveryone(ctx, "bob", msg.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDeleted)

	_, err = f.svc.DeleteForEveryone(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteForEveryone_Window(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	old := &store.Message{SenderID: "alice", ReceiverID: "bob", Text: "old", CreatedAt: time.Now().Add(-61 * time.Minute)}
	require.NoError(t, f.store.CreateMessage(ctx, old))

	_, err := f.svc.DeleteForEveryone(ctx, "alice", old.ID)
	assert.ErrorIs(t, err, ErrPolicy)
	assert.Equal(t, "Messages older than 1 hour cannot be deleted for everyone", Message(err, ""))

	// A wider window allows it
	wide := newFixture(t, WithDeleteWindow(2*time.Hour))
	old2 := &store.Message{SenderID: "alice", ReceiverID: "bob", Text: "old", CreatedAt: time.Now().Add(-61 * time.Minute)}
	require.NoError(t, wide.store.CreateMessage(ctx, old2))
	_, err = wide.svc.DeleteForEveryone(ctx, "alice", old2.ID)
	assert.NoError(t, err)
}

func TestDeleteForEveryone_StoreFailure(t *testing.T) {
	f := newFixture(t)
	msg := f.message(t, "alice", "bob", "hi")
	f.store.SetPingErr(errors.New("db down"))

	_, err := f.svc.DeleteForEveryone(t.Context(), "alice", msg.ID)
	assert.ErrorIs(t, err, ErrDependency)
	assert.Equal(t, "fallback", Message(err, "fallback"))
}

func TestUpdateProfilePic(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.svc.ListOthers(ctx, "bob")
	require.NoError(t, err)

	user, err := f.svc.UpdateProfilePic(ctx, "alice", "data:image/png;base64,xx")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/pic.png", user.ProfilePic)

	_, err = f.layer.UserList(ctx, "bob")
	assert.ErrorIs(t, err, cache.ErrMiss)

	_, err = f.svc.UpdateProfilePic(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Profile pic is required", Message(err, ""))

	_, err = f.svc.UpdateProfilePic(ctx, "zed", "data:image/png;base64,xx")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHumanWindow(t *testing.T) {
	assert.Equal(t, "1 hour", humanWindow(time.Hour))
	assert.Equal(t, "3 hours", humanWindow(3*time.Hour))
	assert.Equal(t, "90 minutes", humanWindow(90*time.Minute))
	assert.Equal(t, "1m30s", humanWindow(90*time.Second))
}
